package engine

import (
	"context"
	"time"

	"bookflow/internal/book"
	"bookflow/internal/view"
	"bookflow/logger"
	"bookflow/models"
)

// handleLoad is the offline one-shot path: parse a standalone snapshot
// payload into an ephemeral order list and run the same aggregation the
// streaming path uses, without touching the live store. Unlike streaming
// message faults, a malformed payload here is terminal: there is no next
// message to recover from.
func (e *Engine) handleLoad(ctx context.Context, data []byte, sizeHint int64, log *logger.Entry) {
	if sizeHint <= 0 {
		sizeHint = int64(len(data))
	}

	parseStart := time.Now()
	snap, err := models.ParseSnapshot(data)
	if err != nil {
		log.WithError(err).Warn("offline snapshot load failed")
		e.channels.SendOut(ctx, models.EngineMessage{
			Kind:      models.MsgLoadFailed,
			Detail:    err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return
	}
	orders, skipped := snap.Orders()
	parseDur := time.Since(parseStart)

	prices := make([]float64, 0, len(orders))
	for _, o := range orders {
		prices = append(prices, o.Price)
	}
	tick := book.DeriveTickSize(prices)

	v, transformDur := view.Build(snap.Coin, orders, tick)

	metrics := &models.LoadMetrics{
		FileSize:          sizeHint,
		ParseDuration:     parseDur,
		TransformDuration: transformDur,
		BidLevels:         len(v.Depth.Bids),
		AskLevels:         len(v.Depth.Asks),
		OrderCount:        v.OrderCount(),
	}

	log.WithFields(logger.Fields{
		"coin":       snap.Coin,
		"orders":     metrics.OrderCount,
		"skipped":    skipped,
		"file_size":  sizeHint,
		"parse_ms":   parseDur.Milliseconds(),
		"build_ms":   transformDur.Milliseconds(),
		"tick_size":  tick,
		"bid_levels": metrics.BidLevels,
		"ask_levels": metrics.AskLevels,
	}).Info("offline snapshot loaded")

	e.channels.SendOut(ctx, models.EngineMessage{
		Kind:      models.MsgLoadResult,
		View:      v,
		Load:      metrics,
		Timestamp: time.Now().UTC(),
	})
}
