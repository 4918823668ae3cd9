package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Order status strings carried on diff events. Statuses in the open set
// add or replace an order, statuses in the terminal set remove it, and
// anything else never affected book state and is ignored.
const (
	StatusOpen                = "open"
	StatusCanceled            = "canceled"
	StatusFilled              = "filled"
	StatusMarginCanceled      = "marginCanceled"
	StatusReduceOnlyCanceled  = "reduceOnlyCanceled"
	TriggerConditionTriggered = "triggered"
)

// RawOrderRecord mirrors a single order as it appears on the wire, inside
// both snapshot levels and diff order_statuses.
type RawOrderRecord struct {
	Side             string `json:"side"` // "B" or "A"
	LimitPx          string `json:"limitPx"`
	Sz               string `json:"sz"`
	Oid              uint64 `json:"oid"`
	Timestamp        int64  `json:"timestamp"`
	User             string `json:"user"`
	IsTrigger        bool   `json:"isTrigger,omitempty"`
	TriggerCondition string `json:"triggerCondition,omitempty"`
}

// SnapshotPayload is a complete book at a point in time. Levels holds two
// arrays: bids first, asks second.
type SnapshotPayload struct {
	Coin   string             `json:"coin"`
	Time   int64              `json:"time"`
	Height int64              `json:"height"`
	Levels [][]RawOrderRecord `json:"levels"`
}

// OrderStatus pairs an order with the status transition it underwent.
type OrderStatus struct {
	Status string         `json:"status"`
	Order  RawOrderRecord `json:"order"`
	User   string         `json:"user,omitempty"`
}

// DiffPayload is an incremental batch of order status changes.
type DiffPayload struct {
	Time          int64         `json:"time,omitempty"`
	Height        int64         `json:"height,omitempty"`
	OrderStatuses []OrderStatus `json:"order_statuses"`
}

// RawFeedMessage wraps a transport frame before classification, in the
// same shape raw reader messages take elsewhere in the pipeline.
type RawFeedMessage struct {
	SessionID   string
	Symbol      string
	Data        []byte
	Timestamp   time.Time
	MessageType string // "snapshot" or "diff"
}

// ToOrder converts a wire record into a domain order. Untriggered
// conditional orders carry no book presence and are rejected here so
// callers can skip them uniformly.
func (r RawOrderRecord) ToOrder() (Order, error) {
	var o Order
	switch r.Side {
	case "B":
		o.Side = Bid
	case "A":
		o.Side = Ask
	default:
		return o, fmt.Errorf("unknown side %q for oid %d", r.Side, r.Oid)
	}
	px, err := strconv.ParseFloat(r.LimitPx, 64)
	if err != nil {
		return o, fmt.Errorf("parse limitPx %q: %w", r.LimitPx, err)
	}
	sz, err := strconv.ParseFloat(r.Sz, 64)
	if err != nil {
		return o, fmt.Errorf("parse sz %q: %w", r.Sz, err)
	}
	o.ID = r.Oid
	o.Price = px
	o.Size = sz
	o.Timestamp = r.Timestamp
	o.Owner = r.User
	return o, nil
}

// Resting reports whether the record belongs in the book at all: an order
// flagged as an untriggered conditional is excluded until it is observed
// with a triggered condition.
func (r RawOrderRecord) Resting() bool {
	return !r.IsTrigger || r.TriggerCondition == TriggerConditionTriggered
}

// ParseSnapshot decodes a wire snapshot payload and validates the fields
// the engine cannot work without.
func ParseSnapshot(data []byte) (*SnapshotPayload, error) {
	var snap SnapshotPayload
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if len(snap.Levels) != 2 {
		return nil, fmt.Errorf("snapshot has %d level arrays, want 2", len(snap.Levels))
	}
	return &snap, nil
}

// ParseDiff decodes a wire diff payload.
func ParseDiff(data []byte) (*DiffPayload, error) {
	var diff DiffPayload
	if err := json.Unmarshal(data, &diff); err != nil {
		return nil, fmt.Errorf("unmarshal diff: %w", err)
	}
	return &diff, nil
}

// Orders flattens the snapshot's bid and ask arrays into domain orders,
// skipping untriggered conditionals and records that fail to parse. The
// returned count is the number of skipped records.
func (s *SnapshotPayload) Orders() ([]Order, int) {
	out := make([]Order, 0, len(s.Levels[0])+len(s.Levels[1]))
	skipped := 0
	for _, lvl := range s.Levels {
		for _, rec := range lvl {
			if !rec.Resting() {
				skipped++
				continue
			}
			o, err := rec.ToOrder()
			if err != nil {
				skipped++
				continue
			}
			out = append(out, o)
		}
	}
	return out, skipped
}
