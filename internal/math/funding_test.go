package math_test

import (
	"math/big"
	"testing"

	fpmath "PerpParity/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFundingDelta(t *testing.T) {
	rate := big.NewInt(200_000_000)

	// 50e18 * 1000 * 2e8 / 1e10 / 100 * 1e18
	delta := fpmath.FundingDelta(fpmath.Weth(100), fpmath.Weth(50), 1000, 0, rate)
	assert.Equal(t, fpmath.MustParse("10000000000000000000000000000000000000"), delta)

	reversed := fpmath.FundingDelta(fpmath.Weth(50), fpmath.Weth(100), 1000, 0, rate)
	assert.Equal(t, new(big.Int).Neg(delta), reversed)
}

func TestFundingDelta_TruncatesTowardZero(t *testing.T) {
	one := big.NewInt(1)
	assert.Equal(t, 0, fpmath.FundingDelta(big.NewInt(1), big.NewInt(0), 1, 0, one).Sign())
	assert.Equal(t, 0, fpmath.FundingDelta(big.NewInt(0), big.NewInt(1), 1, 0, one).Sign(),
		"negative skew must not floor to -1")
}

func TestFundingDelta_EmptyWindow(t *testing.T) {
	delta := fpmath.FundingDelta(fpmath.Weth(100), fpmath.Weth(50), 10, 10, big.NewInt(200_000_000))
	assert.Equal(t, 0, delta.Sign())
}

func TestUpdateFundingAccumulator(t *testing.T) {
	delta := fpmath.MustParse("10000000000000000000000000000000000000")
	oiLong, oiShort := fpmath.Weth(100), fpmath.Weth(50)

	accLong, accShort := fpmath.UpdateFundingAccumulator(oiLong, oiShort, big.NewInt(0), big.NewInt(0), delta)
	assert.Equal(t, fpmath.MustParse("100000000000000000"), accLong)
	assert.Equal(t, fpmath.MustParse("-200000000000000000"), accShort)

	short := fpmath.FundingAccumulatorFor(fpmath.SideShort, oiLong, oiShort, big.NewInt(0), big.NewInt(0), delta)
	assert.Equal(t, accShort, short)
}

func TestUpdateFundingAccumulator_ZeroSideUntouched(t *testing.T) {
	delta := fpmath.MustParse("10000000000000000000000000000000000000")

	accLong, accShort := fpmath.UpdateFundingAccumulator(fpmath.Weth(100), big.NewInt(0), big.NewInt(5), big.NewInt(9), delta)
	assert.Equal(t, int64(9), accShort.Int64())
	assert.Equal(t, 1, accLong.Cmp(big.NewInt(5)))

	accLong, accShort = fpmath.UpdateFundingAccumulator(big.NewInt(0), big.NewInt(0), big.NewInt(5), big.NewInt(9), delta)
	assert.Equal(t, int64(5), accLong.Int64())
	assert.Equal(t, int64(9), accShort.Int64())
}

func TestTradeFundingFee(t *testing.T) {
	// long paid 0.1 per unit of notional over a 10x, 10 WETH trade
	fee := fpmath.TradeFundingFee(fpmath.MustParse("100000000000000000"), big.NewInt(0), fpmath.Weth(10), 10, fpmath.FundingRoundTowardZero)
	assert.Equal(t, fpmath.Weth(10), fee)

	credit := fpmath.TradeFundingFee(fpmath.MustParse("-200000000000000000"), big.NewInt(0), fpmath.Weth(10), 10, fpmath.FundingRoundTowardZero)
	assert.Equal(t, fpmath.Weth(-20), credit)
}

func TestTradeFundingFee_RoundingPolicies(t *testing.T) {
	tests := []struct {
		name   string
		diff   int64
		policy fpmath.FundingRoundingPolicy
		want   int64
	}{
		{"toward zero positive", 3, fpmath.FundingRoundTowardZero, 0},
		{"toward zero negative", -3, fpmath.FundingRoundTowardZero, 0},
		{"floor always positive", 3, fpmath.FundingFloorAlways, 0},
		{"floor always negative", -3, fpmath.FundingFloorAlways, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee := fpmath.TradeFundingFee(big.NewInt(tt.diff), big.NewInt(0), big.NewInt(1), 1, tt.policy)
			assert.Equal(t, tt.want, fee.Int64())
		})
	}
}

func TestFundingFee_BalancedOpenInterestIsZero(t *testing.T) {
	for _, oi := range []int64{1, 7, 1000, 123456} {
		oiLong, oiShort := fpmath.Weth(oi), fpmath.Weth(oi)
		delta := fpmath.FundingDelta(oiLong, oiShort, 5000, 0, big.NewInt(999_999_999))
		accLong, accShort := fpmath.UpdateFundingAccumulator(oiLong, oiShort, big.NewInt(0), big.NewInt(0), delta)

		for _, acc := range []*big.Int{accLong, accShort} {
			fee := fpmath.TradeFundingFee(acc, big.NewInt(0), fpmath.Weth(3), 25, fpmath.FundingRoundTowardZero)
			assert.Equal(t, 0, fee.Sign(), "oi=%d", oi)
		}
	}
}

func TestParseFundingRoundingPolicy(t *testing.T) {
	p, err := fpmath.ParseFundingRoundingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, fpmath.FundingRoundTowardZero, p)

	p, err = fpmath.ParseFundingRoundingPolicy("floor_always")
	require.NoError(t, err)
	assert.Equal(t, fpmath.FundingFloorAlways, p)
	assert.Equal(t, "floor_always", p.String())

	_, err = fpmath.ParseFundingRoundingPolicy("banker")
	assert.Error(t, err)
}

func TestFundingFeePerBlockP(t *testing.T) {
	// 20% drift over 1000 blocks: 2e11 / 1000
	rate := fpmath.FundingFeePerBlockP(big.NewInt(120_000_000_000), big.NewInt(100_000_000_000), 2000, 1000)
	assert.Equal(t, int64(200_000_000), rate.Int64())

	below := fpmath.FundingFeePerBlockP(big.NewInt(80_000_000_000), big.NewInt(100_000_000_000), 2000, 1000)
	assert.Equal(t, rate, below)

	none := fpmath.FundingFeePerBlockP(big.NewInt(120_000_000_000), big.NewInt(100_000_000_000), 1000, 1000)
	assert.Equal(t, 0, none.Sign())
}
