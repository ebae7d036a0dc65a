package math

import "math/big"

// BorrowingDeltaDivisor scales blocks * feePerBlock * utilisation^exp back
// into accumulator units.
var BorrowingDeltaDivisor = new(big.Int).Set(WethUnit)

// BorrowingDelta returns the borrowing fee accrued per unit of position
// between lastUpdateBlock and currentBlock:
//
//	floor(blocks * feePerBlock * (netOI*1e10/maxOi)^feeExponent / 1e18)
//
// netOI is the dominant side's net open interest. A negative netOI (the
// minority side) accrues nothing.
func BorrowingDelta(
	currentBlock, lastUpdateBlock uint64,
	feePerBlock *big.Int,
	feeExponent uint64,
	netOI *big.Int,
	maxOi *big.Int,
) *big.Int {
	requirePositive("maxOi", maxOi)
	requireNonNegative("feePerBlock", feePerBlock)

	blocks := blocksBetween(currentBlock, lastUpdateBlock)
	if blocks.Sign() == 0 || netOI.Sign() <= 0 {
		return new(big.Int)
	}

	// utilisation = netOI * 1e10 / maxOi (floored)
	utilisation := MulDiv(netOI, Precision, maxOi, RoundFloor)

	numerator := Mul(blocks, feePerBlock, Pow(utilisation, feeExponent))
	return DivRound(numerator, BorrowingDeltaDivisor, RoundFloor)
}

// TradingFee converts an accumulator delta into the fee charged to a
// position: floor(collateral * leverage * delta / 1e10 / 100).
func TradingFee(delta, collateral *big.Int, leverage uint64) *big.Int {
	requireNonNegative("delta", delta)
	requireNonNegative("collateral", collateral)

	numerator := Mul(collateral, Uint(leverage), delta)
	return DivRound(numerator, PercentPrecision, RoundFloor)
}

// PositionBorrowingDelta returns the delta accrued by a position on side.
// Positions on the minority side accrue zero, never a negative value.
func PositionBorrowingDelta(
	side Side,
	oiLong, oiShort *big.Int,
	currentBlock, lastUpdateBlock uint64,
	feePerBlock *big.Int,
	feeExponent uint64,
	maxOi *big.Int,
) *big.Int {
	dominant, netOI := Skew(oiLong, oiShort)
	if side != dominant {
		return new(big.Int)
	}
	return BorrowingDelta(currentBlock, lastUpdateBlock, feePerBlock, feeExponent, netOI, maxOi)
}

// AccrueBorrowing adds the delta for [lastUpdateBlock, currentBlock] to the
// dominant side's accumulator and returns the updated pair (accLong, accShort).
// Inputs are not mutated.
func AccrueBorrowing(
	accLong, accShort *big.Int,
	oiLong, oiShort *big.Int,
	currentBlock, lastUpdateBlock uint64,
	feePerBlock *big.Int,
	feeExponent uint64,
	maxOi *big.Int,
) (*big.Int, *big.Int) {
	newLong := new(big.Int).Set(accLong)
	newShort := new(big.Int).Set(accShort)

	dominant, netOI := Skew(oiLong, oiShort)
	delta := BorrowingDelta(currentBlock, lastUpdateBlock, feePerBlock, feeExponent, netOI, maxOi)
	if dominant == SideLong {
		newLong.Add(newLong, delta)
	} else {
		newShort.Add(newShort, delta)
	}
	return newLong, newShort
}
