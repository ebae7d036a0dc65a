package state

import (
	"math/big"
	"sort"
	"time"

	fpmath "PerpParity/internal/math"
)

// PricePoint is an oracle price observed at a block.
type PricePoint struct {
	Price     *big.Int // 1e10
	Block     uint64
	Timestamp int64
}

// PriceHistory keeps a bounded window of prices per pair.
type PriceHistory struct {
	points    map[uint64][]PricePoint
	maxPoints int
}

func NewPriceHistory(maxPoints int) *PriceHistory {
	if maxPoints <= 0 {
		maxPoints = 1024
	}
	return &PriceHistory{
		points:    make(map[uint64][]PricePoint),
		maxPoints: maxPoints,
	}
}

// Record appends a price. A point older than the latest one is ignored
// (stale feed), so replays are idempotent.
func (h *PriceHistory) Record(pairIndex uint64, pt PricePoint) bool {
	pts := h.points[pairIndex]
	if n := len(pts); n > 0 {
		last := pts[n-1]
		if pt.Timestamp < last.Timestamp || (pt.Timestamp == last.Timestamp && pt.Block <= last.Block) {
			return false
		}
	}

	pts = append(pts, PricePoint{Price: new(big.Int).Set(pt.Price), Block: pt.Block, Timestamp: pt.Timestamp})
	if len(pts) > h.maxPoints {
		pts = pts[len(pts)-h.maxPoints:]
	}
	h.points[pairIndex] = pts
	return true
}

func (h *PriceHistory) Latest(pairIndex uint64) (PricePoint, bool) {
	pts := h.points[pairIndex]
	if len(pts) == 0 {
		return PricePoint{}, false
	}
	return pts[len(pts)-1], true
}

// TWAP returns the time-weighted average over [from, to] (unix seconds).
func (h *PriceHistory) TWAP(pairIndex uint64, from, to int64) (*big.Int, bool) {
	pts := h.points[pairIndex]
	obs := make([]fpmath.PriceObservation, len(pts))
	for i, p := range pts {
		obs[i] = fpmath.PriceObservation{Price: p.Price, Timestamp: p.Timestamp}
	}
	return fpmath.TWAP(obs, from, to)
}

// SuggestedFundingRate derives a per-block funding rate from the drift of
// the latest price against the TWAP over the trailing window.
func (h *PriceHistory) SuggestedFundingRate(pairIndex uint64, window time.Duration) (*big.Int, bool) {
	latest, ok := h.Latest(pairIndex)
	if !ok {
		return nil, false
	}

	from := latest.Timestamp - int64(window/time.Second)
	ref, ok := h.TWAP(pairIndex, from, latest.Timestamp)
	if !ok || ref.Sign() <= 0 {
		return nil, false
	}

	pts := h.points[pairIndex]
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Timestamp > from })
	refBlock := pts[0].Block
	if i > 0 {
		refBlock = pts[i-1].Block
	}

	return fpmath.FundingFeePerBlockP(latest.Price, ref, latest.Block, refBlock), true
}
