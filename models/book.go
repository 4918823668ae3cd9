package models

// Side identifies which half of the book an order rests on.
type Side int8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Order is a single resting L4 order. Orders are immutable once observed;
// a re-delivered oid replaces the previous order wholesale.
type Order struct {
	ID        uint64  `json:"id"`
	Side      Side    `json:"side"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Timestamp int64   `json:"timestamp"` // ms since epoch
	Owner     string  `json:"owner"`
}

// ViewRange describes the window currently visible to the caller. It is
// owned by the rendering layer and read-only to the engine.
type ViewRange struct {
	PriceMin float64 `json:"price_min"`
	PriceMax float64 `json:"price_max"`
	YMin     float64 `json:"y_min"`
	YMax     float64 `json:"y_max"`
}
