package view

import (
	"sort"
	"time"

	"bookflow/models"
)

// Build materializes the two renderable views from a set of live orders in
// a single pass. It is the one shared aggregation routine: the streaming
// path feeds it the store's live set, the offline path an ephemeral list
// parsed straight from a snapshot file. Both produce identical views for
// the same input sequence.
//
// Cost is O(n log n) in the live order count, dominated by the per-bucket
// timestamp sorts and the global brightness rank sort. It must never run
// on the event-handling hot path; the rebuild scheduler gates it.
func Build(coin string, orders []models.Order, tick float64) (*models.BookView, time.Duration) {
	start := time.Now()

	rows := make([]models.HeatmapOrder, len(orders))
	for i, o := range orders {
		rows[i] = models.HeatmapOrder{Order: o}
	}
	assignBrightness(rows)

	bids, asks := groupRows(rows)

	v := &models.BookView{Coin: coin}
	v.Depth.Bids = aggregate(bids)
	v.Depth.Asks = aggregate(asks)
	v.Heatmap = stack(bids, asks, tick)

	return v, time.Since(start)
}

// group is one occupied (price, side) bucket, members in arrival order
// until stacked.
type group struct {
	price float64
	side  models.Side
	total float64
	rows  []models.HeatmapOrder
}

type groupKey struct {
	price float64
	side  models.Side
}

// groupRows buckets rows by (price, side), preserving encounter order
// within a bucket, and returns bids sorted by descending price and asks
// by ascending price, i.e. best price first.
func groupRows(rows []models.HeatmapOrder) (bids, asks []*group) {
	index := make(map[groupKey]*group)
	var ordered []*group
	for _, r := range rows {
		key := groupKey{price: r.Price, side: r.Side}
		g, ok := index[key]
		if !ok {
			g = &group{price: r.Price, side: r.Side}
			index[key] = g
			ordered = append(ordered, g)
		}
		g.total += r.Size
		g.rows = append(g.rows, r)
	}

	for _, g := range ordered {
		if g.side == models.Bid {
			bids = append(bids, g)
		} else {
			asks = append(asks, g)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].price > bids[j].price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].price < asks[j].price })
	return bids, asks
}

// aggregate emits one depth level per bucket with a running cumulative
// sum from best price outward.
func aggregate(side []*group) []models.AggregatedLevel {
	levels := make([]models.AggregatedLevel, 0, len(side))
	cum := 0.0
	for _, g := range side {
		cum += g.total
		levels = append(levels, models.AggregatedLevel{
			Price:      g.price,
			Size:       g.total,
			Cumulative: cum,
		})
	}
	return levels
}

// stack orders every bucket oldest-first, assigns each row a yOffset equal
// to the cumulative size of strictly-older rows in its bucket, and folds
// the per-bucket totals into the heatmap bounds.
func stack(bids, asks []*group, tick float64) models.HeatmapView {
	hm := models.HeatmapView{TickSize: tick}

	n := 0
	for _, g := range append(append([]*group(nil), bids...), asks...) {
		n += len(g.rows)
	}
	hm.Orders = make([]models.HeatmapOrder, 0, n)

	first := true
	emit := func(g *group) {
		// Stable sort: rows sharing a timestamp keep arrival order.
		sort.SliceStable(g.rows, func(i, j int) bool {
			return g.rows[i].Timestamp < g.rows[j].Timestamp
		})
		y := 0.0
		for _, r := range g.rows {
			r.YOffset = y
			y += r.Size
			hm.Orders = append(hm.Orders, r)
		}
		if y > hm.MaxCumSize {
			hm.MaxCumSize = y
		}
		if first || g.price < hm.DataPriceMin {
			hm.DataPriceMin = g.price
		}
		if first || g.price > hm.DataPriceMax {
			hm.DataPriceMax = g.price
		}
		first = false
	}
	for _, g := range bids {
		emit(g)
	}
	for _, g := range asks {
		emit(g)
	}
	return hm
}

// assignBrightness ranks all rows by timestamp globally: oldest 0, newest
// 1, a single row exactly 0.5. Rank-based rather than a normalized raw
// timestamp fraction, so small age differences stay visible even when the
// absolute span is huge. Equal timestamps tie-break on order id: the
// input arrives in map iteration order, so the rank must not depend on
// encounter position or identical stores would render differently.
func assignBrightness(rows []models.HeatmapOrder) {
	n := len(rows)
	if n == 0 {
		return
	}
	if n == 1 {
		rows[0].Brightness = 0.5
		return
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := rows[idx[a]], rows[idx[b]]
		if ra.Timestamp != rb.Timestamp {
			return ra.Timestamp < rb.Timestamp
		}
		return ra.ID < rb.ID
	})
	for rank, i := range idx {
		rows[i].Brightness = float64(rank) / float64(n-1)
	}
}
