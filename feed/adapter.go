package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	appconfig "bookflow/config"
	"bookflow/internal/channel"
	"bookflow/logger"
	"bookflow/models"
)

// StatusFn receives every state transition of the adapter, with a short
// human-readable detail. It is called from the adapter's session
// goroutine and must not block for long.
type StatusFn func(state models.FeedState, detail string)

type subscribeRequest struct {
	Method       string           `json:"method"`
	Subscription subscriptionArgs `json:"subscription"`
}

type subscriptionArgs struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

// Adapter owns the live transport connection: the connection state
// machine, subscribe handshake, and reconnect policy. Incoming frames are
// classified and forwarded into the engine's event queue; the adapter
// never touches book state itself.
type Adapter struct {
	config   *appconfig.Config
	dialer   Dialer
	channels *channel.Channels
	log      *logger.Log

	mu        sync.RWMutex
	running   bool
	state     models.FeedState
	notify    StatusFn
	sessionID string
	cancel    context.CancelFunc
	wg        *sync.WaitGroup

	limiter *rate.Limiter
	attempt int
	fails   int
}

// NewAdapter creates an idle adapter. The dialer is injectable so tests
// can script transport behaviour.
func NewAdapter(cfg *appconfig.Config, dialer Dialer, ch *channel.Channels) *Adapter {
	dialsPerMinute := cfg.Feed.DialsPerMinute
	if dialsPerMinute <= 0 {
		dialsPerMinute = 60
	}
	return &Adapter{
		config:   cfg,
		dialer:   dialer,
		channels: ch,
		log:      logger.GetLogger(),
		state:    models.StateIdle,
		wg:       &sync.WaitGroup{},
		limiter:  rate.NewLimiter(rate.Limit(float64(dialsPerMinute)/60.0), 1),
	}
}

// State returns the current connection state.
func (a *Adapter) State() models.FeedState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Connect starts a streaming session against url for the given symbol.
// Forwarded frames carry sessionID so the engine can drop frames from a
// torn-down session. The session reconnects on every transport fault
// until Disconnect.
func (a *Adapter) Connect(ctx context.Context, url, symbol, sessionID string, notify StatusFn) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("adapter already running")
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	a.running = true
	a.cancel = cancel
	a.notify = notify
	a.sessionID = sessionID
	a.attempt = 0
	a.fails = 0
	a.mu.Unlock()

	a.log.WithComponent("feed_adapter").WithFields(logger.Fields{
		"url":    url,
		"symbol": symbol,
	}).Info("starting feed session")

	a.wg.Add(1)
	go a.stream(sessionCtx, url, symbol)
	return nil
}

// Disconnect terminates the session: it synchronously detaches the status
// callback, cancels any pending reconnect timer and read loop, and waits
// for the session goroutine to exit. No callback fires after it returns.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.notify = nil
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	a.log.WithComponent("feed_adapter").Info("stopping feed session")
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	a.mu.Lock()
	a.state = models.StateIdle
	a.mu.Unlock()
	a.log.WithComponent("feed_adapter").Info("feed session stopped")
}

// stream runs the dial/subscribe/read cycle until the session context is
// cancelled.
func (a *Adapter) stream(ctx context.Context, url, symbol string) {
	defer a.wg.Done()

	log := a.log.WithComponent("feed_adapter").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "stream",
	})

	for {
		if ctx.Err() != nil {
			return
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return
		}

		a.apply(ctx, EventDial, "dialing")

		conn, err := a.dialer.Dial(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.fail(ctx, log, err, "failed to connect, retrying")
			if !a.backoff(ctx) {
				return
			}
			continue
		}

		a.mu.Lock()
		a.attempt = 0
		a.fails = 0
		a.mu.Unlock()
		a.apply(ctx, EventOpen, "transport open")

		sub := subscribeRequest{
			Method:       "subscribe",
			Subscription: subscriptionArgs{Type: "l4Book", Coin: symbol},
		}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			a.fail(ctx, log, err, "failed to subscribe")
			if !a.backoff(ctx) {
				return
			}
			continue
		}
		// Optimistic: subscribed once the request is on the wire, no
		// server ack required. The source redelivers a snapshot on every
		// fresh subscribe.
		a.apply(ctx, EventSubscribeSent, "subscribed "+symbol)
		log.Info("subscribed to l4 book stream")

		a.readLoop(ctx, conn, symbol, log)
		if ctx.Err() != nil {
			return
		}
		if !a.backoff(ctx) {
			return
		}
	}
}

// readLoop pumps frames off the connection until it breaks. A ping timer
// keeps intermediaries from reaping the idle connection.
func (a *Adapter) readLoop(ctx context.Context, conn Conn, symbol string, log *logger.Entry) {
	pingInterval := a.config.Feed.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	done := make(chan struct{})
	go func() {
		defer pingTicker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingTicker.C:
				conn.WriteMessage(pingMessageType, []byte(`{"method":"ping"}`))
			}
		}
	}()
	defer close(done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			a.fail(ctx, log, err, "transport read error, reconnecting")
			return
		}
		a.forward(ctx, msg, symbol, log)
	}
}

// forward classifies one frame and hands it to the engine.
func (a *Adapter) forward(ctx context.Context, msg []byte, symbol string, log *logger.Entry) {
	class := Classify(msg)
	if class == ClassIgnore {
		log.WithFields(logger.Fields{"bytes": len(msg)}).Debug("ignoring frame")
		return
	}

	if class == ClassSnapshot {
		logger.IncrementSnapshotReceived(len(msg))
	} else {
		logger.IncrementDiffReceived(len(msg))
	}

	a.mu.RLock()
	sessionID := a.sessionID
	a.mu.RUnlock()

	raw := models.RawFeedMessage{
		SessionID:   sessionID,
		Symbol:      symbol,
		Data:        Unwrap(msg),
		Timestamp:   time.Now().UTC(),
		MessageType: class,
	}
	if !a.channels.SendEvent(ctx, raw) && ctx.Err() == nil {
		log.Warn("event queue rejected message")
	}
}

// fail records a failed cycle and transitions to Error/Disconnected.
func (a *Adapter) fail(ctx context.Context, log *logger.Entry, err error, msg string) {
	a.mu.Lock()
	a.attempt++
	a.fails++
	fails := a.fails
	a.mu.Unlock()

	logger.IncrementReconnect()
	log.WithError(err).WithFields(logger.Fields{"consecutive_failures": fails}).Warn(msg)
	a.apply(ctx, EventFail, fmt.Sprintf("%s (consecutive failures: %d)", err, fails))
}

// backoff sleeps min(base*2^attempt, max). Returns false when the session
// was cancelled while waiting.
func (a *Adapter) backoff(ctx context.Context) bool {
	a.mu.RLock()
	attempt := a.attempt
	a.mu.RUnlock()

	base := a.config.Feed.ReconnectBaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := a.config.Feed.ReconnectMaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := base
	for i := 0; i < attempt-1 && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// apply advances the state machine and notifies the engine. Nothing is
// emitted once the session context is cancelled: a disconnected session
// must fall silent immediately.
func (a *Adapter) apply(ctx context.Context, ev Event, detail string) {
	if ctx.Err() != nil {
		return
	}
	a.mu.Lock()
	a.state = Transition(a.state, ev)
	state := a.state
	notify := a.notify
	a.mu.Unlock()

	if notify != nil {
		notify(state, detail)
	}
}
