package channel

import (
	"context"
	"sync"
	"time"

	"bookflow/logger"
	"bookflow/models"
)

type Stats struct {
	EventsSent    int64
	EventsDropped int64
	OutSent       int64
	OutDropped    int64
}

// Channels bundles the two queues the engine lives on: classified feed
// events flowing in, engine messages flowing out to the caller.
type Channels struct {
	Events chan models.RawFeedMessage
	Out    chan models.EngineMessage

	stats               Stats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(eventBufferSize, outBufferSize int) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		Events: make(chan models.RawFeedMessage, eventBufferSize),
		Out:    make(chan models.EngineMessage, outBufferSize),
		log:    log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"event_buffer_size": eventBufferSize,
		"out_buffer_size":   outBufferSize,
	}).Info("channels initialized")

	return c
}

// SendEvent queues a classified feed event for the engine. Feed events
// must not be dropped (diffs are applied in arrival order), so the send
// blocks until the engine drains the queue or ctx is cancelled.
func (c *Channels) SendEvent(ctx context.Context, msg models.RawFeedMessage) bool {
	select {
	case c.Events <- msg:
		c.statsMutex.Lock()
		c.stats.EventsSent++
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("engine_events", len(msg.Data))
		return true
	case <-ctx.Done():
		c.statsMutex.Lock()
		c.stats.EventsDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// SendOut delivers an engine message to the caller, blocking until the
// caller accepts it or ctx is cancelled. Used for status and terminal
// results that must not be lost.
func (c *Channels) SendOut(ctx context.Context, msg models.EngineMessage) bool {
	select {
	case c.Out <- msg:
		c.statsMutex.Lock()
		c.stats.OutSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

// TrySendOut delivers an engine message without blocking. A full queue
// drops the message: periodic view updates are superseded by the next
// rebuild anyway.
func (c *Channels) TrySendOut(msg models.EngineMessage) bool {
	select {
	case c.Out <- msg:
		c.statsMutex.Lock()
		c.stats.OutSent++
		c.statsMutex.Unlock()
		return true
	default:
		c.statsMutex.Lock()
		c.stats.OutDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	c.statsMutex.RLock()
	stats := c.stats
	c.statsMutex.RUnlock()

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"events_sent":     stats.EventsSent,
		"events_dropped":  stats.EventsDropped,
		"out_sent":        stats.OutSent,
		"out_dropped":     stats.OutDropped,
		"event_queue_len": len(c.Events),
		"event_queue_cap": cap(c.Events),
		"out_queue_len":   len(c.Out),
		"out_queue_cap":   cap(c.Out),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	close(c.Events)
	close(c.Out)

	c.log.WithComponent("channels").Info("all channels closed")
}
