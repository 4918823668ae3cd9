package view

import (
	"math"

	"bookflow/models"
)

// Hit is the result of a cursor lookup: the matched row plus the
// aggregate size of its whole price level, for tooltip display.
type Hit struct {
	Order      models.HeatmapOrder
	LevelTotal float64
}

// Locate finds the order under a cursor. The cursor arrives normalized to
// [0,1] within the caller-held view range and is mapped back to data
// coordinates here. Phase one scans for the row whose price column is
// nearest the cursor price; if even the nearest column is further than
// half a tick away the cursor is not meaningfully over a price level and
// there is no match. Phase two picks, among rows at that exact price, the
// one whose stacked span [yOffset, yOffset+size] contains the cursor y,
// falling back to the row with the closest span edge.
//
// This is a deliberate linear scan: it runs on pointer movement only,
// never on the streaming hot path, and is bounded by the live order count.
func Locate(hm *models.HeatmapView, vr models.ViewRange, nx, ny float64) (Hit, bool) {
	if len(hm.Orders) == 0 {
		return Hit{}, false
	}

	price := vr.PriceMin + nx*(vr.PriceMax-vr.PriceMin)
	y := vr.YMin + ny*(vr.YMax-vr.YMin)

	nearest := math.MaxFloat64
	nearestPrice := 0.0
	for _, r := range hm.Orders {
		if d := math.Abs(r.Price - price); d < nearest {
			nearest = d
			nearestPrice = r.Price
		}
	}
	if nearest > hm.TickSize/2 {
		return Hit{}, false
	}

	var (
		best      models.HeatmapOrder
		bestDist  = math.MaxFloat64
		contained bool
		total     float64
	)
	for _, r := range hm.Orders {
		if r.Price != nearestPrice {
			continue
		}
		total += r.Size
		if contained {
			continue
		}
		lo, hi := r.YOffset, r.YOffset+r.Size
		if y >= lo && y <= hi {
			best = r
			contained = true
			continue
		}
		d := math.Min(math.Abs(y-lo), math.Abs(y-hi))
		if d < bestDist {
			bestDist = d
			best = r
		}
	}
	return Hit{Order: best, LevelTotal: total}, true
}
