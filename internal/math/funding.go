package math

import (
	"fmt"
	"math/big"
)

// FundingRoundingPolicy selects how the per-trade funding fee is rounded.
// Fixture generations disagree on the convention, so it is a parameter.
type FundingRoundingPolicy int

const (
	// FundingRoundTowardZero floors non-negative fees and ceils negative ones.
	FundingRoundTowardZero FundingRoundingPolicy = iota
	// FundingFloorAlways floors regardless of sign.
	FundingFloorAlways
)

func (p FundingRoundingPolicy) String() string {
	if p == FundingFloorAlways {
		return "floor_always"
	}
	return "toward_zero"
}

func (p FundingRoundingPolicy) mode() RoundingMode {
	if p == FundingFloorAlways {
		return RoundFloor
	}
	return RoundTowardZero
}

// ParseFundingRoundingPolicy accepts "toward_zero" (default when empty) or "floor_always".
func ParseFundingRoundingPolicy(s string) (FundingRoundingPolicy, error) {
	switch s {
	case "", "toward_zero":
		return FundingRoundTowardZero, nil
	case "floor_always":
		return FundingFloorAlways, nil
	default:
		return FundingRoundTowardZero, fmt.Errorf("unknown funding rounding policy %q", s)
	}
}

// FundingDelta returns the signed funding accrued over the block window:
//
//	(oiLong - oiShort) * blocks * fundingFeePerBlockP / 1e10 / 100 * 1e18
//
// Each division truncates toward zero, as signed integer division does on-chain.
// Positive means longs pay shorts.
func FundingDelta(
	oiLong, oiShort *big.Int,
	currentBlock, lastUpdateBlock uint64,
	fundingFeePerBlockP *big.Int,
) *big.Int {
	requireNonNegative("oiLong", oiLong)
	requireNonNegative("oiShort", oiShort)
	requireNonNegative("fundingFeePerBlockP", fundingFeePerBlockP)

	skew := new(big.Int).Sub(oiLong, oiShort)
	raw := Mul(skew, blocksBetween(currentBlock, lastUpdateBlock), fundingFeePerBlockP)

	delta := DivRound(raw, Precision, RoundTowardZero)
	delta = DivRound(delta, Int(100), RoundTowardZero)
	return delta.Mul(delta, WethUnit)
}

// UpdateFundingAccumulator distributes delta over each side's open interest.
// A side with zero open interest is left untouched. Inputs are not mutated.
func UpdateFundingAccumulator(oiLong, oiShort, accLong, accShort, delta *big.Int) (*big.Int, *big.Int) {
	newLong := new(big.Int).Set(accLong)
	newShort := new(big.Int).Set(accShort)

	if oiLong.Sign() > 0 {
		newLong.Add(newLong, DivRound(delta, oiLong, RoundTowardZero))
	}
	if oiShort.Sign() > 0 {
		negDelta := new(big.Int).Neg(delta)
		newShort.Add(newShort, DivRound(negDelta, oiShort, RoundTowardZero))
	}
	return newLong, newShort
}

// FundingAccumulatorFor applies UpdateFundingAccumulator and returns side's value.
func FundingAccumulatorFor(side Side, oiLong, oiShort, accLong, accShort, delta *big.Int) *big.Int {
	newLong, newShort := UpdateFundingAccumulator(oiLong, oiShort, accLong, accShort, delta)
	if side == SideLong {
		return newLong
	}
	return newShort
}

// TradeFundingFee returns the funding owed by a position:
//
//	(accNow - accAtEntry) * collateral * leverage / 1e18
//
// A positive result is debited from the trader; a negative one is credited
// (callers pay out its absolute value).
func TradeFundingFee(
	accNow, accAtEntry, collateral *big.Int,
	leverage uint64,
	policy FundingRoundingPolicy,
) *big.Int {
	requireNonNegative("collateral", collateral)

	diff := new(big.Int).Sub(accNow, accAtEntry)
	raw := Mul(diff, collateral, Uint(leverage))
	return DivRound(raw, WethUnit, policy.mode())
}

// FundingFeePerBlockP derives the per-block funding rate (1e10 percent) from
// the drift between the current price and a reference price:
//
//	|current - reference| * 100 * 1e10 / reference / blocks
func FundingFeePerBlockP(currentPrice, referencePrice *big.Int, currentBlock, referenceBlock uint64) *big.Int {
	requirePositive("referencePrice", referencePrice)

	blocks := blocksBetween(currentBlock, referenceBlock)
	if blocks.Sign() == 0 {
		return new(big.Int)
	}

	drift := new(big.Int).Sub(currentPrice, referencePrice)
	drift.Abs(drift)

	perWindow := MulDiv(drift, PercentPrecision, referencePrice, RoundFloor)
	return DivRound(perWindow, blocks, RoundFloor)
}
