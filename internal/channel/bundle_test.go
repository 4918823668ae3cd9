package channel

import (
	"context"
	"testing"
	"time"

	"bookflow/models"
)

func TestSendEventBlocksUntilDrained(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()
	ctx := context.Background()

	if !c.SendEvent(ctx, models.RawFeedMessage{Symbol: "BTC"}) {
		t.Fatal("send into empty queue failed")
	}

	// Queue full: the second send must wait for the drain below.
	done := make(chan bool, 1)
	go func() {
		done <- c.SendEvent(ctx, models.RawFeedMessage{Symbol: "ETH"})
	}()

	select {
	case <-done:
		t.Fatal("send completed against a full queue")
	case <-time.After(20 * time.Millisecond):
	}

	<-c.Events
	select {
	case ok := <-done:
		if !ok {
			t.Error("blocked send reported failure after drain")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked send never completed")
	}
}

func TestSendEventCancelled(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()

	c.SendEvent(context.Background(), models.RawFeedMessage{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.SendEvent(ctx, models.RawFeedMessage{}) {
		t.Error("send succeeded on cancelled context with full queue")
	}
	if got := c.GetStats().EventsDropped; got != 1 {
		t.Errorf("events dropped = %d, want 1", got)
	}
}

func TestTrySendOutDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()

	if !c.TrySendOut(models.EngineMessage{Kind: models.MsgViewUpdated}) {
		t.Fatal("send into empty queue failed")
	}
	if c.TrySendOut(models.EngineMessage{Kind: models.MsgViewUpdated}) {
		t.Error("send succeeded against a full queue")
	}

	stats := c.GetStats()
	if stats.OutSent != 1 {
		t.Errorf("out sent = %d, want 1", stats.OutSent)
	}
	if stats.OutDropped != 1 {
		t.Errorf("out dropped = %d, want 1", stats.OutDropped)
	}
}

func TestStatsCountEvents(t *testing.T) {
	c := NewChannels(4, 4)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.SendEvent(ctx, models.RawFeedMessage{})
	}
	c.SendOut(ctx, models.EngineMessage{})

	stats := c.GetStats()
	if stats.EventsSent != 3 {
		t.Errorf("events sent = %d, want 3", stats.EventsSent)
	}
	if stats.OutSent != 1 {
		t.Errorf("out sent = %d, want 1", stats.OutSent)
	}
}
