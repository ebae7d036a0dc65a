package math_test

import (
	"math/big"
	"testing"

	fpmath "PerpParity/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBorrowingDelta_DeploymentExample(t *testing.T) {
	// floor(1000 * 24595 * (5e21*1e10/1e19) / 1e18) = floor(122.975)
	delta := fpmath.BorrowingDelta(
		1000, 0,
		big.NewInt(24595), 1,
		fpmath.Weth(5000),
		fpmath.Weth(10),
	)
	assert.Equal(t, int64(122), delta.Int64())
}

func TestBorrowingDelta(t *testing.T) {
	tests := []struct {
		name        string
		current     uint64
		last        uint64
		feePerBlock int64
		exponent    uint64
		netOI       *big.Int
		maxOi       *big.Int
		want        string
	}{
		{
			name: "quadratic exponent", current: 10, last: 0, feePerBlock: 1, exponent: 2,
			// (5e18*1e10/1e19)^2 = 2.5e19; 10 * 2.5e19 / 1e18 = 250
			netOI: fpmath.Weth(5), maxOi: fpmath.Weth(10), want: "250",
		},
		{
			name: "empty window", current: 100, last: 100, feePerBlock: 24595, exponent: 1,
			netOI: fpmath.Weth(5), maxOi: fpmath.Weth(10), want: "0",
		},
		{
			name: "block regression is empty", current: 50, last: 100, feePerBlock: 24595, exponent: 1,
			netOI: fpmath.Weth(5), maxOi: fpmath.Weth(10), want: "0",
		},
		{
			name: "zero net open interest", current: 1000, last: 0, feePerBlock: 24595, exponent: 1,
			netOI: big.NewInt(0), maxOi: fpmath.Weth(10), want: "0",
		},
		{
			name: "minority net open interest", current: 1000, last: 0, feePerBlock: 24595, exponent: 1,
			netOI: big.NewInt(-5), maxOi: fpmath.Weth(10), want: "0",
		},
		{
			name: "utilisation floors before multiplying", current: 1, last: 0, feePerBlock: 1_000_000_000, exponent: 1,
			// 1*1e10/3 floors to 3333333333; 1e9 * 3333333333 / 1e18 = 3
			netOI: big.NewInt(1), maxOi: big.NewInt(3), want: "3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fpmath.BorrowingDelta(tt.current, tt.last, big.NewInt(tt.feePerBlock), tt.exponent, tt.netOI, tt.maxOi)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestBorrowingDelta_ZeroMaxOiPanics(t *testing.T) {
	require.Panics(t, func() {
		fpmath.BorrowingDelta(10, 0, big.NewInt(1), 1, fpmath.Weth(1), big.NewInt(0))
	})
}

func TestTradingFee(t *testing.T) {
	// 10e18 * 10 * 122 / 1e12
	fee := fpmath.TradingFee(big.NewInt(122), fpmath.Weth(10), 10)
	assert.Equal(t, "12200000000", fee.String())

	assert.Equal(t, 0, fpmath.TradingFee(big.NewInt(1), big.NewInt(1), 1).Sign())
}

func TestPositionBorrowingDelta_MinoritySideAccruesNothing(t *testing.T) {
	oiLong, oiShort := fpmath.Weth(100), fpmath.Weth(40)
	fee := big.NewInt(24595)
	maxOi := fpmath.Weth(10)

	short := fpmath.PositionBorrowingDelta(fpmath.SideShort, oiLong, oiShort, 1000, 0, fee, 1, maxOi)
	assert.Equal(t, 0, short.Sign())

	long := fpmath.PositionBorrowingDelta(fpmath.SideLong, oiLong, oiShort, 1000, 0, fee, 1, maxOi)
	want := fpmath.BorrowingDelta(1000, 0, fee, 1, fpmath.Weth(60), maxOi)
	assert.Equal(t, want, long)
	assert.Equal(t, 1, long.Sign())
}

func TestAccrueBorrowing_OnlyDominantSideMoves(t *testing.T) {
	accLong, accShort := big.NewInt(7), big.NewInt(11)

	newLong, newShort := fpmath.AccrueBorrowing(
		accLong, accShort,
		fpmath.Weth(1000), fpmath.Weth(5000),
		1000, 0, big.NewInt(24595), 1, fpmath.Weth(10),
	)

	// shorts dominate by 4000 WETH: floor(1000*24595*4e12/1e18) = 98
	assert.Equal(t, int64(7), newLong.Int64())
	assert.Equal(t, int64(11+98), newShort.Int64())
	assert.Equal(t, int64(7), accLong.Int64(), "input must not be mutated")
}
