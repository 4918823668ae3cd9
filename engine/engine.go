package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "bookflow/config"
	"bookflow/feed"
	"bookflow/internal/book"
	"bookflow/internal/channel"
	"bookflow/internal/view"
	"bookflow/logger"
	"bookflow/models"
)

// ViewExporter persists a built view somewhere durable. Implemented by
// the writer package; nil disables exporting.
type ViewExporter interface {
	Export(ctx context.Context, v *models.BookView) (string, error)
}

type ctrlKind int

const (
	ctrlConnect ctrlKind = iota
	ctrlDisconnect
	ctrlSetInterval
	ctrlLoadSnapshot
	ctrlExportView
	ctrlStatus
)

type ctrlMsg struct {
	kind     ctrlKind
	url      string
	symbol   string
	interval time.Duration
	data     []byte
	sizeHint int64
	state    models.FeedState
	detail   string
}

// Engine owns the order store and the rebuild scheduler. Everything that
// mutates or reads book state -- feed events, control messages, scheduler
// ticks, offline loads -- runs to completion on the single run goroutine,
// so the store needs no locking and every rebuild sees whole diff batches.
type Engine struct {
	config   *appconfig.Config
	channels *channel.Channels
	adapter  *feed.Adapter
	exporter ViewExporter
	store    *book.Store
	log      *logger.Log

	ctrl   chan ctrlMsg
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
	mu     sync.RWMutex

	running bool

	// Scheduler and per-session state, owned by the run goroutine.
	dirty            bool
	schedActive      bool
	interval         time.Duration
	ticker           *time.Ticker
	firstView        bool
	coin             string
	sessionID        string
	diffsApplied     int64
	messagesReceived int64
}

// NewEngine wires an engine to its queues. exporter may be nil.
func NewEngine(cfg *appconfig.Config, ch *channel.Channels, adapter *feed.Adapter, exporter ViewExporter) *Engine {
	interval := cfg.Scheduler.RebuildInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Engine{
		config:   cfg,
		channels: ch,
		adapter:  adapter,
		exporter: exporter,
		store:    nil,
		log:      logger.GetLogger(),
		ctrl:     make(chan ctrlMsg, 32),
		wg:       &sync.WaitGroup{},
		interval: interval,
	}
}

// Start launches the run goroutine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	// The engine derives its own cancel so Stop can unwind the run loop
	// even when the caller never cancels the context it passed in.
	e.ctx, e.cancel = context.WithCancel(ctx)
	ctx = e.ctx
	e.mu.Unlock()

	e.store = book.NewStore(func() { e.dirty = true })

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"rebuild_interval": e.interval,
	}).Info("starting engine")

	e.wg.Add(1)
	go e.run(ctx)

	e.log.WithComponent("engine").Info("engine started successfully")
	return nil
}

// Stop tears the engine down and waits for the run goroutine.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.log.WithComponent("engine").Info("stopping engine")
	e.adapter.Disconnect()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.log.WithComponent("engine").Info("engine stopped")
}

// Connect asks the engine to open a streaming session.
func (e *Engine) Connect(url, symbol string) error {
	return e.post(ctrlMsg{kind: ctrlConnect, url: url, symbol: symbol})
}

// Disconnect tears down the streaming session and clears all session
// state: orders, aggregates, cached tick size, backoff counter.
func (e *Engine) Disconnect() error {
	return e.post(ctrlMsg{kind: ctrlDisconnect})
}

// SetRebuildInterval adjusts the scheduler period at runtime. The timer
// restarts; the dirty flag and accumulated counters survive.
func (e *Engine) SetRebuildInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("rebuild interval must be positive, got %s", d)
	}
	return e.post(ctrlMsg{kind: ctrlSetInterval, interval: d})
}

// LoadSnapshot runs the offline one-shot path: parse a standalone
// snapshot payload and build views without touching the live store.
func (e *Engine) LoadSnapshot(data []byte, sizeHint int64) error {
	return e.post(ctrlMsg{kind: ctrlLoadSnapshot, data: data, sizeHint: sizeHint})
}

// ExportView builds a view from current book state and hands it to the
// configured exporter.
func (e *Engine) ExportView() error {
	return e.post(ctrlMsg{kind: ctrlExportView})
}

func (e *Engine) post(m ctrlMsg) error {
	e.mu.RLock()
	running := e.running
	ctx := e.ctx
	e.mu.RUnlock()
	if !running {
		return fmt.Errorf("engine not running")
	}
	select {
	case e.ctrl <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	log := e.log.WithComponent("engine").WithFields(logger.Fields{"worker": "run"})
	log.Info("run loop started")

	e.ticker = time.NewTicker(e.interval)
	defer e.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("run loop stopped due to context cancellation")
			return
		case m := <-e.ctrl:
			e.handleCtrl(ctx, m, log)
		case raw, ok := <-e.channels.Events:
			if !ok {
				log.Info("event channel closed, run loop stopping")
				return
			}
			e.handleEvent(ctx, raw, log)
		case <-e.ticker.C:
			e.handleTick(ctx, log)
		}
	}
}

func (e *Engine) handleCtrl(ctx context.Context, m ctrlMsg, log *logger.Entry) {
	switch m.kind {
	case ctrlConnect:
		// The session id switches over only once the adapter accepted the
		// connect. A rejected attempt (adapter already running) must leave
		// the live session's stamp intact or its frames turn stale.
		sessionID := uuid.NewString()
		notify := e.statusNotifier()
		if err := e.adapter.Connect(ctx, m.url, m.symbol, sessionID, notify); err != nil {
			log.WithError(err).Warn("connect rejected")
			return
		}
		e.sessionID = sessionID
		e.coin = m.symbol
		e.messagesReceived = 0
		e.diffsApplied = 0

	case ctrlDisconnect:
		e.adapter.Disconnect()
		e.store.Clear()
		e.schedActive = false
		e.dirty = false
		e.firstView = true
		e.diffsApplied = 0
		e.messagesReceived = 0
		e.sessionID = ""
		log.Info("session disconnected, book state cleared")

	case ctrlSetInterval:
		e.interval = m.interval
		e.ticker.Reset(m.interval)
		log.WithFields(logger.Fields{"rebuild_interval": m.interval}).Info("rebuild interval adjusted")

	case ctrlLoadSnapshot:
		e.handleLoad(ctx, m.data, m.sizeHint, log)

	case ctrlExportView:
		e.handleExport(ctx, log)

	case ctrlStatus:
		e.handleStatus(ctx, m.state, m.detail)
	}
}

// statusNotifier bridges adapter transitions into the control queue. The
// post is non-blocking: the adapter must never stall behind a busy loop,
// and a dropped transition is recoverable while a wedged transport is not.
func (e *Engine) statusNotifier() feed.StatusFn {
	return func(state models.FeedState, detail string) {
		select {
		case e.ctrl <- ctrlMsg{kind: ctrlStatus, state: state, detail: detail}:
		default:
			e.log.WithComponent("engine").WithFields(logger.Fields{
				"state": state.String(),
			}).Warn("control queue full, status transition dropped")
		}
	}
}

func (e *Engine) handleStatus(ctx context.Context, state models.FeedState, detail string) {
	switch state {
	case models.StateConnected:
		e.messagesReceived = 0
	case models.StateSubscribed:
		e.schedActive = true
		e.firstView = true
	case models.StateDisconnected, models.StateError:
		e.schedActive = false
	}

	e.channels.SendOut(ctx, models.EngineMessage{
		Kind:      models.MsgStatus,
		State:     state,
		Detail:    detail,
		SessionID: e.sessionID,
		Timestamp: time.Now().UTC(),
	})
}

func (e *Engine) handleEvent(ctx context.Context, raw models.RawFeedMessage, log *logger.Entry) {
	if raw.SessionID != e.sessionID {
		// A late frame from a torn-down session must not mutate state.
		log.WithFields(logger.Fields{"session_id": raw.SessionID}).Debug("dropping stale frame")
		return
	}

	e.messagesReceived++

	switch raw.MessageType {
	case feed.ClassSnapshot:
		e.applySnapshot(raw, log)
	case feed.ClassDiff:
		e.applyDiff(raw, log)
	default:
		log.WithFields(logger.Fields{"message_type": raw.MessageType}).Debug("ignoring event")
	}
}

func (e *Engine) applySnapshot(raw models.RawFeedMessage, log *logger.Entry) {
	start := time.Now()
	snap, err := models.ParseSnapshot(raw.Data)
	if err != nil {
		log.WithError(err).Warn("failed to parse snapshot, dropping")
		return
	}

	orders, skipped := snap.Orders()
	e.store.Reset(orders)
	if snap.Coin != "" {
		e.coin = snap.Coin
	}

	logger.LogPerformanceEntry(log, "engine", "apply_snapshot", time.Since(start), logger.Fields{
		"orders":    len(orders),
		"skipped":   skipped,
		"tick_size": e.store.TickSize(),
		"height":    snap.Height,
	})
}

func (e *Engine) applyDiff(raw models.RawFeedMessage, log *logger.Entry) {
	diff, err := models.ParseDiff(raw.Data)
	if err != nil {
		log.WithError(err).Warn("failed to parse diff, dropping")
		return
	}

	for _, st := range diff.OrderStatuses {
		switch st.Status {
		case models.StatusOpen:
			if !st.Order.Resting() {
				// Untriggered conditional: no book presence yet.
				continue
			}
			o, err := st.Order.ToOrder()
			if err != nil {
				log.WithError(err).Debug("skipping malformed order record")
				continue
			}
			e.store.Upsert(o)
			e.diffsApplied++
		case models.StatusCanceled, models.StatusFilled,
			models.StatusMarginCanceled, models.StatusReduceOnlyCanceled:
			if e.store.Remove(st.Order.Oid) {
				e.diffsApplied++
			}
		default:
			// Rejections and other statuses never affected book state.
		}
	}
}

// handleTick is the rebuild scheduler: a no-op unless something changed
// since the last pass. Rebuild cost is amortized over the interval no
// matter how fast diffs arrive.
func (e *Engine) handleTick(ctx context.Context, log *logger.Entry) {
	if !e.schedActive || !e.dirty {
		return
	}

	v, dur := view.Build(e.coin, e.store.Live(), e.store.TickSize())
	logger.IncrementRebuild()

	metrics := &models.StreamMetrics{
		OrderCount:       v.OrderCount(),
		BidLevels:        len(v.Depth.Bids),
		AskLevels:        len(v.Depth.Asks),
		RebuildDuration:  dur,
		DiffsApplied:     e.diffsApplied,
		MessagesReceived: e.messagesReceived,
		RebuildInterval:  e.interval,
	}

	kind := models.MsgViewUpdated
	if e.firstView {
		kind = models.MsgSnapshotReady
	}

	msg := models.EngineMessage{
		Kind:      kind,
		State:     models.StateSubscribed,
		View:      v,
		Stream:    metrics,
		SessionID: e.sessionID,
		Timestamp: time.Now().UTC(),
	}

	delivered := false
	if e.firstView {
		delivered = e.channels.SendOut(ctx, msg)
	} else {
		delivered = e.channels.TrySendOut(msg)
	}
	if delivered {
		e.firstView = false
		logger.LogDataFlowEntry(log, "engine", "view_consumer", metrics.OrderCount, "book_view")
	}

	e.dirty = false
	e.diffsApplied = 0

	logger.LogPerformanceEntry(log, "engine", "rebuild", dur, logger.Fields{
		"orders":     metrics.OrderCount,
		"bid_levels": metrics.BidLevels,
		"ask_levels": metrics.AskLevels,
	})
}

func (e *Engine) handleExport(ctx context.Context, log *logger.Entry) {
	if e.exporter == nil {
		log.Warn("no exporter configured, ignoring export request")
		return
	}
	v, _ := view.Build(e.coin, e.store.Live(), e.store.TickSize())
	start := time.Now()
	path, err := e.exporter.Export(ctx, v)
	if err != nil {
		log.WithError(err).Warn("view export failed")
		return
	}
	logger.LogPerformanceEntry(log, "engine", "export_view", time.Since(start), logger.Fields{
		"path":   path,
		"orders": v.OrderCount(),
	})
	e.log.LogMetric("engine", "view_export_orders", float64(v.OrderCount()), logger.Fields{
		"coin": v.Coin,
	})
}
