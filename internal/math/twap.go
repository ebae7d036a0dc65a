package math

import (
	"math/big"
	"sort"
)

// PriceObservation is a price fed at a unix timestamp (seconds).
type PriceObservation struct {
	Price     *big.Int
	Timestamp int64
}

// TWAP returns the time-weighted average price over [from, to]. Each
// observation holds until the next one. Time before the first observation is
// not weighted. If the window has no weight the latest price at or before to
// is returned. ok is false when no observation precedes to.
func TWAP(observations []PriceObservation, from, to int64) (*big.Int, bool) {
	if len(observations) == 0 || to < from {
		return nil, false
	}

	obs := make([]PriceObservation, len(observations))
	copy(obs, observations)
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Timestamp < obs[j].Timestamp
	})

	weighted := new(big.Int)
	var total int64
	var latest *big.Int

	for i, o := range obs {
		if o.Timestamp > to {
			break
		}
		latest = o.Price

		start := o.Timestamp
		if start < from {
			start = from
		}
		end := to
		if i+1 < len(obs) && obs[i+1].Timestamp < end {
			end = obs[i+1].Timestamp
		}
		if end <= start {
			continue
		}

		span := end - start
		weighted.Add(weighted, new(big.Int).Mul(o.Price, big.NewInt(span)))
		total += span
	}

	if latest == nil {
		return nil, false
	}
	if total == 0 {
		return new(big.Int).Set(latest), true
	}
	return DivRound(weighted, big.NewInt(total), RoundFloor), true
}
