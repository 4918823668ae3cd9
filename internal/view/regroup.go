package view

import (
	"math"

	"bookflow/models"
)

// bucketEpsilon guards the floor/ceil snapping against float boundary
// misclassification (a price sitting exactly on a multiple of the target
// tick must snap to itself on both sides).
const bucketEpsilon = 1e-9

// Regroup re-buckets a heatmap into wider price columns for display zoom
// levels coarser than the data's native tick. Bids snap to the nearest
// target-tick multiple at or below their price, asks at or above; the
// asymmetry guarantees a bid bucket and an ask bucket never share a
// price, so bid/ask separation survives regrouping. A target at or below
// the native tick is a no-op and returns the input view unchanged. No
// order is dropped or merged: output row count equals input row count.
func Regroup(hm *models.HeatmapView, target float64) *models.HeatmapView {
	if target <= hm.TickSize {
		return hm
	}

	rows := make([]models.HeatmapOrder, len(hm.Orders))
	for i, r := range hm.Orders {
		r.Price = snapPrice(r.Price, r.Side, target)
		rows[i] = r
	}

	bids, asks := groupRows(rows)
	out := stack(bids, asks, target)
	return &out
}

func snapPrice(price float64, side models.Side, target float64) float64 {
	if side == models.Bid {
		return math.Floor((price+bucketEpsilon)/target) * target
	}
	return math.Ceil((price-bucketEpsilon)/target) * target
}
