package models

// AggregatedLevel is one price level of the depth view. Cumulative runs
// from the best price outward.
type AggregatedLevel struct {
	Price      float64 `json:"price"`
	Size       float64 `json:"size"`
	Cumulative float64 `json:"cumulative"`
}

// DepthView is the price-aggregated rendering of one book: best price
// first on both sides (bids descending, asks ascending).
type DepthView struct {
	Bids []AggregatedLevel `json:"bids"`
	Asks []AggregatedLevel `json:"asks"`
}

// HeatmapOrder is one row of the heatmap: an order plus its stacking
// offset within its (price, side) bucket and its age-derived brightness.
// Price is the display column the order stacks at; after tick regrouping
// it is the bucketed price rather than the order's native limit price.
type HeatmapOrder struct {
	Order
	YOffset    float64 `json:"y_offset"`
	Brightness float64 `json:"brightness"`
}

// HeatmapView lists every live order, grouped by (price, side), each
// group ordered oldest first. Orders within a group stack by YOffset so
// bars never overlap. Brightness is the global timestamp rank across all
// live orders: oldest 0, newest 1, a lone order 0.5.
type HeatmapView struct {
	Orders       []HeatmapOrder `json:"orders"`
	TickSize     float64        `json:"tick_size"`
	MaxCumSize   float64        `json:"max_cum_size"`
	DataPriceMin float64        `json:"data_price_min"`
	DataPriceMax float64        `json:"data_price_max"`
}

// BookView bundles the two renderable views produced by one rebuild pass.
type BookView struct {
	Coin    string      `json:"coin"`
	Depth   DepthView   `json:"depth"`
	Heatmap HeatmapView `json:"heatmap"`
}

// OrderCount returns the number of live orders the view was built from.
func (v *BookView) OrderCount() int {
	return len(v.Heatmap.Orders)
}
