package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	appconfig "bookflow/config"
	"bookflow/feed"
	"bookflow/internal/channel"
	"bookflow/models"
)

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.frames:
		return 1, msg, nil
	case <-c.closed:
		return 0, nil, fmt.Errorf("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error { return nil }

func (c *fakeConn) WriteMessage(messageType int, data []byte) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (feed.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func testConfig() *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Feed.PingInterval = time.Hour
	cfg.Feed.ReconnectBaseDelay = time.Millisecond
	cfg.Feed.ReconnectMaxDelay = 10 * time.Millisecond
	cfg.Feed.DialsPerMinute = 600000
	cfg.Scheduler.RebuildInterval = 10 * time.Millisecond
	return cfg
}

type harness struct {
	engine   *Engine
	channels *channel.Channels
	dialer   *fakeDialer
	cancel   context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, nil)
}

func newHarnessWith(t *testing.T, exporter ViewExporter) *harness {
	t.Helper()
	cfg := testConfig()
	ch := channel.NewChannels(64, 64)
	dialer := &fakeDialer{}
	adapter := feed.NewAdapter(cfg, dialer, ch)
	eng := NewEngine(cfg, ch, adapter, exporter)

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.Start(ctx); err != nil {
		cancel()
		t.Fatalf("engine start failed: %v", err)
	}
	h := &harness{engine: eng, channels: ch, dialer: dialer, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		eng.Stop()
		ch.Close()
	})
	return h
}

func (h *harness) waitKind(t *testing.T, kind models.EngineMessageKind) models.EngineMessage {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-h.channels.Out:
			if msg.Kind == kind {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for message kind %v", kind)
		}
	}
}

func (h *harness) waitState(t *testing.T, state models.FeedState) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-h.channels.Out:
			if msg.Kind == models.MsgStatus && msg.State == state {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", state)
		}
	}
}

func (h *harness) conn(t *testing.T) *fakeConn {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if c := h.dialer.latest(); c != nil {
			return c
		}
		select {
		case <-deadline:
			t.Fatal("no connection dialed")
		case <-time.After(time.Millisecond):
		}
	}
}

const snapshotFrame = `{
	"coin": "BTC",
	"time": 1000,
	"height": 7,
	"levels": [
		[
			{"side": "B", "limitPx": "100", "sz": "2", "oid": 1, "timestamp": 10, "user": "0xa"},
			{"side": "B", "limitPx": "99", "sz": "1", "oid": 2, "timestamp": 20, "user": "0xb"}
		],
		[
			{"side": "A", "limitPx": "101", "sz": "3", "oid": 3, "timestamp": 30, "user": "0xc"}
		]
	]
}`

func TestEngineSnapshotProducesFirstView(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Connect("ws://test", "BTC"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	h.waitState(t, models.StateSubscribed)

	h.conn(t).frames <- []byte(snapshotFrame)

	msg := h.waitKind(t, models.MsgSnapshotReady)
	if msg.View == nil {
		t.Fatal("snapshot-ready message carries no view")
	}
	if got := msg.View.OrderCount(); got != 3 {
		t.Errorf("order count = %d, want 3", got)
	}
	if got := msg.View.Heatmap.TickSize; got != 1 {
		t.Errorf("tick size = %v, want 1", got)
	}
	if msg.View.Coin != "BTC" {
		t.Errorf("coin = %q, want BTC", msg.View.Coin)
	}
	if msg.Stream == nil {
		t.Error("snapshot-ready message carries no stream metrics")
	}
}

func TestEngineDiffUpdatesView(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Connect("ws://test", "BTC"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	h.waitState(t, models.StateSubscribed)
	conn := h.conn(t)

	conn.frames <- []byte(snapshotFrame)
	h.waitKind(t, models.MsgSnapshotReady)

	diff := `{
		"time": 2000,
		"order_statuses": [
			{"status": "open", "order": {"side": "B", "limitPx": "98", "sz": "5", "oid": 10, "timestamp": 40, "user": "0xd"}},
			{"status": "canceled", "order": {"side": "B", "limitPx": "99", "sz": "1", "oid": 2, "timestamp": 41}},
			{"status": "open", "order": {"side": "A", "limitPx": "110", "sz": "1", "oid": 11, "timestamp": 42, "isTrigger": true, "triggerCondition": "above 109"}},
			{"status": "rejected", "order": {"side": "A", "limitPx": "120", "sz": "1", "oid": 12, "timestamp": 43}}
		]
	}`
	conn.frames <- []byte(diff)

	msg := h.waitKind(t, models.MsgViewUpdated)
	// Snapshot had orders 1,2,3; the diff adds 10, removes 2, skips the
	// untriggered conditional 11 and the rejection 12.
	if got := msg.View.OrderCount(); got != 3 {
		t.Errorf("order count = %d, want 3", got)
	}
	ids := make(map[uint64]bool)
	for _, r := range msg.View.Heatmap.Orders {
		ids[r.ID] = true
	}
	if !ids[10] || ids[2] || ids[11] || ids[12] {
		t.Errorf("unexpected live order set: %v", ids)
	}
}

func TestEngineNoRebuildWithoutChanges(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Connect("ws://test", "BTC"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	h.waitState(t, models.StateSubscribed)
	h.conn(t).frames <- []byte(snapshotFrame)
	h.waitKind(t, models.MsgSnapshotReady)

	// No further diffs: the scheduler must stay quiet.
	select {
	case msg := <-h.channels.Out:
		if msg.Kind == models.MsgViewUpdated || msg.Kind == models.MsgSnapshotReady {
			t.Errorf("unexpected rebuild without book changes: %v", msg.Kind)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineDisconnectClearsStateAndFallsSilent(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Connect("ws://test", "BTC"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	h.waitState(t, models.StateSubscribed)
	h.conn(t).frames <- []byte(snapshotFrame)
	h.waitKind(t, models.MsgSnapshotReady)

	if err := h.engine.Disconnect(); err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}

	// Allow the teardown to complete, then drain whatever was in flight.
	time.Sleep(50 * time.Millisecond)
	for {
		select {
		case <-h.channels.Out:
			continue
		default:
		}
		break
	}

	select {
	case msg := <-h.channels.Out:
		t.Errorf("message of kind %v emitted after disconnect", msg.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineResubscribeEmitsSnapshotReadyAgain(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Connect("ws://test", "BTC"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	h.waitState(t, models.StateSubscribed)
	h.conn(t).frames <- []byte(snapshotFrame)
	h.waitKind(t, models.MsgSnapshotReady)

	// Break the transport: the adapter reconnects and resubscribes, and
	// the redelivered snapshot must surface as snapshot-ready, not a
	// routine update.
	h.conn(t).Close()
	h.waitState(t, models.StateSubscribed)
	h.conn(t).frames <- []byte(snapshotFrame)
	h.waitKind(t, models.MsgSnapshotReady)
}

func TestEngineLoadSnapshot(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.LoadSnapshot([]byte(snapshotFrame), 0); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	msg := h.waitKind(t, models.MsgLoadResult)
	if msg.View == nil || msg.Load == nil {
		t.Fatal("load result missing view or metrics")
	}
	if got := msg.Load.OrderCount; got != 3 {
		t.Errorf("order count = %d, want 3", got)
	}
	if got := msg.Load.FileSize; got != int64(len(snapshotFrame)) {
		t.Errorf("file size = %d, want payload length %d", got, len(snapshotFrame))
	}
	if msg.View.Coin != "BTC" {
		t.Errorf("coin = %q, want BTC", msg.View.Coin)
	}
}

func TestEngineLoadSnapshotFailure(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.LoadSnapshot([]byte(`{"coin":"BTC","levels":[[]]}`), 0); err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}

	msg := h.waitKind(t, models.MsgLoadFailed)
	if msg.Detail == "" {
		t.Error("load failure carries no detail")
	}
}

func TestEngineSetRebuildIntervalValidation(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.SetRebuildInterval(-time.Second); err == nil {
		t.Error("expected error for negative interval")
	}
	if err := h.engine.SetRebuildInterval(50 * time.Millisecond); err != nil {
		t.Errorf("valid interval rejected: %v", err)
	}
}

func TestEngineKeepsSessionAfterRejectedConnect(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Connect("ws://test", "BTC"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	h.waitState(t, models.StateSubscribed)
	conn := h.conn(t)
	conn.frames <- []byte(snapshotFrame)
	h.waitKind(t, models.MsgSnapshotReady)

	// The adapter rejects a second connect while a session is live; the
	// running session must keep stamping frames under its original id.
	if err := h.engine.Connect("ws://test", "BTC"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	diff := `{
		"time": 2000,
		"order_statuses": [
			{"status": "open", "order": {"side": "B", "limitPx": "98", "sz": "5", "oid": 10, "timestamp": 40, "user": "0xd"}}
		]
	}`
	conn.frames <- []byte(diff)

	msg := h.waitKind(t, models.MsgViewUpdated)
	if got := msg.View.OrderCount(); got != 4 {
		t.Errorf("order count = %d, want 4", got)
	}
}

func TestEngineStopWithoutContextCancel(t *testing.T) {
	cfg := testConfig()
	ch := channel.NewChannels(4, 4)
	defer ch.Close()
	adapter := feed.NewAdapter(cfg, &fakeDialer{}, ch)
	eng := NewEngine(cfg, ch, adapter, nil)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		eng.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked without caller-side context cancellation")
	}
}

type stubExporter struct {
	mu    sync.Mutex
	views []*models.BookView
}

func (s *stubExporter) Export(ctx context.Context, v *models.BookView) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, v)
	return "exports/test.parquet", nil
}

func (s *stubExporter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

func TestEngineExportViewUsesExporter(t *testing.T) {
	exp := &stubExporter{}
	h := newHarnessWith(t, exp)

	if err := h.engine.Connect("ws://test", "BTC"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	h.waitState(t, models.StateSubscribed)
	h.conn(t).frames <- []byte(snapshotFrame)
	h.waitKind(t, models.MsgSnapshotReady)

	if err := h.engine.ExportView(); err != nil {
		t.Fatalf("ExportView returned error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for exp.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("exporter never received a view")
		case <-time.After(5 * time.Millisecond):
		}
	}

	exp.mu.Lock()
	v := exp.views[0]
	exp.mu.Unlock()
	if v.Coin != "BTC" {
		t.Errorf("exported coin = %q, want BTC", v.Coin)
	}
	if got := v.OrderCount(); got != 3 {
		t.Errorf("exported order count = %d, want 3", got)
	}
}
