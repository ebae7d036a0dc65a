package math

import (
	"fmt"
	"math/big"
)

// PnlLimits bounds the profit percent (1e10 scale, 100% == 1e12).
type PnlLimits struct {
	// MaxGainP caps profits; 9e12 is +900%.
	MaxGainP *big.Int
	// LiquidationThresholdP is the loss at which the position is worth nothing;
	// 9e11 is -90%. Any profit percent <= -LiquidationThresholdP saturates
	// to FullLossP.
	LiquidationThresholdP *big.Int
}

var (
	MaxGainP              = MustParse("9000000000000")
	LiquidationThresholdP = MustParse("900000000000")
	// FullLossP is the -100% sentinel returned for saturated losses.
	FullLossP = MustParse("-1000000000000")
)

// DefaultPnlLimits returns the protocol's +900% cap and 90% liquidation threshold.
func DefaultPnlLimits() PnlLimits {
	return PnlLimits{
		MaxGainP:              new(big.Int).Set(MaxGainP),
		LiquidationThresholdP: new(big.Int).Set(LiquidationThresholdP),
	}
}

// PnlLimitsFromPercent builds limits from whole-percent values, e.g. (900, 90).
func PnlLimitsFromPercent(maxGainPercent, liquidationPercent uint64) PnlLimits {
	return PnlLimits{
		MaxGainP:              new(big.Int).Mul(Uint(maxGainPercent), Precision),
		LiquidationThresholdP: new(big.Int).Mul(Uint(liquidationPercent), Precision),
	}
}

// RawProfitPercent returns the unclamped levered profit percent:
//
//	(isLong ? cur-open : open-cur) * 100 * 1e10 * leverage / openPrice
//
// floored when the dividend is non-negative and ceiled when negative.
func RawProfitPercent(currentPrice, openPrice *big.Int, leverage uint64, isLong bool) *big.Int {
	requirePositive("openPrice", openPrice)
	if leverage == 0 {
		panic("fixedpoint: leverage must be positive")
	}

	var diff *big.Int
	if isLong {
		diff = new(big.Int).Sub(currentPrice, openPrice)
	} else {
		diff = new(big.Int).Sub(openPrice, currentPrice)
	}

	dividend := Mul(diff, PercentPrecision, Uint(leverage))
	if dividend.Sign() >= 0 {
		return DivRound(dividend, openPrice, RoundFloor)
	}
	return DivRound(dividend, openPrice, RoundCeil)
}

// Clamp applies the gain cap and the full-loss saturation to p.
func (l PnlLimits) Clamp(p *big.Int) *big.Int {
	if p.Cmp(l.MaxGainP) > 0 {
		return new(big.Int).Set(l.MaxGainP)
	}
	floor := new(big.Int).Neg(l.LiquidationThresholdP)
	if p.Cmp(floor) <= 0 {
		return new(big.Int).Set(FullLossP)
	}
	return new(big.Int).Set(p)
}

// ProfitPercent returns the clamped profit percent under the default limits.
func ProfitPercent(currentPrice, openPrice *big.Int, leverage uint64, isLong bool) *big.Int {
	return DefaultPnlLimits().Clamp(RawProfitPercent(currentPrice, openPrice, leverage, isLong))
}

// AmountForProfitPercent returns floor(collateral * (100*1e10 + p) / 100 / 1e10),
// never below zero.
func AmountForProfitPercent(collateral, p *big.Int) *big.Int {
	requireNonNegative("collateral", collateral)

	factor := new(big.Int).Add(PercentPrecision, p)
	if factor.Sign() <= 0 {
		return new(big.Int)
	}
	return MulDiv(collateral, factor, PercentPrecision, RoundFloor)
}

// CloseAmount returns the WETH sent back to a trader closing at currentPrice,
// before borrowing and funding fees, under the default limits.
func CloseAmount(currentPrice, openPrice *big.Int, leverage uint64, isLong bool, collateral *big.Int) *big.Int {
	return DefaultPnlLimits().CloseAmount(currentPrice, openPrice, leverage, isLong, collateral)
}

// CloseAmount is CloseAmount under l.
func (l PnlLimits) CloseAmount(currentPrice, openPrice *big.Int, leverage uint64, isLong bool, collateral *big.Int) *big.Int {
	p := l.Clamp(RawProfitPercent(currentPrice, openPrice, leverage, isLong))
	return AmountForProfitPercent(collateral, p)
}

// NetCloseAmount deducts the borrowing fee and the signed funding fee from
// the gross close amount. A negative funding fee is a credit. The result is
// floored at zero.
func NetCloseAmount(gross, borrowingFee, fundingFee *big.Int) *big.Int {
	net := new(big.Int).Sub(gross, borrowingFee)
	net.Sub(net, fundingFee)
	if net.Sign() < 0 {
		return new(big.Int)
	}
	return net
}

// TakeProfitPercent returns the levered percent distance of a take-profit
// price from the open price, rounded toward zero.
func TakeProfitPercent(tp, openPrice *big.Int, leverage uint64, isLong bool) *big.Int {
	requirePositive("openPrice", openPrice)

	var diff *big.Int
	if isLong {
		diff = new(big.Int).Sub(tp, openPrice)
	} else {
		diff = new(big.Int).Sub(openPrice, tp)
	}
	return DivRound(Mul(diff, PercentPrecision, Uint(leverage)), openPrice, RoundTowardZero)
}

// RebasedTakeProfit moves a take-profit of tpP percent onto a new open price,
// as happens after a partial liquidation.
func RebasedTakeProfit(tpP, newOpenPrice *big.Int, leverage uint64, isLong bool) *big.Int {
	if leverage == 0 {
		panic("fixedpoint: leverage must be positive")
	}

	distance := DivRound(
		Mul(newOpenPrice, tpP),
		Mul(PercentPrecision, Uint(leverage)),
		RoundTowardZero,
	)
	if isLong {
		return new(big.Int).Add(newOpenPrice, distance)
	}
	tp := new(big.Int).Sub(newOpenPrice, distance)
	if tp.Sign() < 0 {
		return new(big.Int)
	}
	return tp
}

// LiquidationPrice returns the price at which the position's remaining value
// falls to (100 - thresholdPercent)% of collateral after fees:
//
//	distance = open * (collateral*thresholdPercent/100 - borrowingFee - fundingFee) / collateral / leverage
//
// Longs liquidate at open - distance, shorts at open + distance. The result
// is never negative.
func LiquidationPrice(
	openPrice *big.Int,
	isLong bool,
	collateral *big.Int,
	leverage uint64,
	borrowingFee, fundingFee *big.Int,
	thresholdPercent uint64,
) *big.Int {
	requirePositive("collateral", collateral)
	if leverage == 0 || thresholdPercent > 100 {
		panic(fmt.Sprintf("fixedpoint: invalid leverage %d or threshold %d", leverage, thresholdPercent))
	}

	budget := DivRound(Mul(collateral, Uint(thresholdPercent)), Int(100), RoundFloor)
	budget.Sub(budget, borrowingFee)
	budget.Sub(budget, fundingFee)

	distance := DivRound(Mul(openPrice, budget), collateral, RoundTowardZero)
	distance = DivRound(distance, Uint(leverage), RoundTowardZero)

	var price *big.Int
	if isLong {
		price = new(big.Int).Sub(openPrice, distance)
	} else {
		price = new(big.Int).Add(openPrice, distance)
	}
	if price.Sign() < 0 {
		return new(big.Int)
	}
	return price
}
