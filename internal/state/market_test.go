package state_test

import (
	"math/big"
	"testing"

	fpmath "PerpParity/internal/math"
	"PerpParity/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newMarket(t *testing.T, feePerBlock, fundingRate int64) *state.Market {
	t.Helper()
	m := state.NewMarket(state.DefaultMarketConfig())
	require.NoError(t, m.UpdatePairParams(&state.PairFeeParams{
		PairIndex:           0,
		FeePerBlock:         big.NewInt(feePerBlock),
		FeeExponent:         1,
		MaxOi:               fpmath.Weth(10),
		FundingFeePerBlockP: big.NewInt(fundingRate),
	}, 100))
	return m
}

func openTrade(t *testing.T, m *state.Market, trader common.Address, collateral int64, buy bool, block uint64) *state.Position {
	t.Helper()
	pos, err := m.OpenTrade(state.OpenTradeRequest{
		Trader:     trader,
		PairIndex:  0,
		Collateral: fpmath.Weth(collateral),
		Leverage:   10,
		Buy:        buy,
		OpenPrice:  fpmath.Weth(10),
		Block:      block,
	})
	require.NoError(t, err)
	return pos
}

func TestMarket_CloseTrade(t *testing.T) {
	m := newMarket(t, 24595, 0)
	pos := openTrade(t, m, alice, 10, true, 100)

	oi, err := m.OpenInterest(0)
	require.NoError(t, err)
	assert.Equal(t, fpmath.Weth(100), oi.Long)

	quote, err := m.CloseTrade(pos.Key(), fpmath.Weth(12), 1100)
	require.NoError(t, err)

	// util 1e11; floor(1000 * 24595 * 1e11 / 1e18) = 2; fee = 10e18 * 10 * 2 / 1e12
	assert.Equal(t, "200000000", quote.BorrowingFee.String())
	assert.Equal(t, 0, quote.FundingFee.Sign())
	assert.Equal(t, fpmath.Weth(30), quote.Gross)
	assert.Equal(t, "29999999999800000000", quote.Net.String())

	oi, err = m.OpenInterest(0)
	require.NoError(t, err)
	assert.Equal(t, 0, oi.Long.Sign())
	assert.Equal(t, 0, m.PositionCount())
}

func TestMarket_ParamsUpdateSettlesFirst(t *testing.T) {
	m := newMarket(t, 24595, 0)
	openTrade(t, m, alice, 10, true, 100)

	require.NoError(t, m.UpdatePairParams(&state.PairFeeParams{
		PairIndex:   0,
		FeePerBlock: big.NewInt(49190),
		FeeExponent: 1,
		MaxOi:       fpmath.Weth(10),
	}, 600))

	pair, err := m.PendingPair(0, 1100)
	require.NoError(t, err)
	// floor(1.22975) with old params + floor(2.4595) with new ones
	assert.Equal(t, int64(3), pair.Borrowing.AccFeeLong.Int64())
	assert.Equal(t, uint64(600), pair.Params.EffectiveBlock)
}

func TestMarket_MinoritySideAccruesNoBorrowing(t *testing.T) {
	m := newMarket(t, 24595, 0)
	openTrade(t, m, alice, 10, true, 100)
	short := openTrade(t, m, bob, 1, false, 100)

	quote, err := m.QuoteClose(short.Key(), fpmath.Weth(10), 5000)
	require.NoError(t, err)
	assert.Equal(t, 0, quote.BorrowingFee.Sign())

	pair, err := m.PendingPair(0, 5000)
	require.NoError(t, err)
	assert.Equal(t, 0, pair.Borrowing.AccFeeShort.Sign())
	assert.Equal(t, 1, pair.Borrowing.AccFeeLong.Sign())
}

func TestMarket_FundingIsZeroSum(t *testing.T) {
	m := newMarket(t, 0, 200_000_000)
	long := openTrade(t, m, alice, 10, true, 100)
	short := openTrade(t, m, bob, 5, false, 100)

	longQuote, err := m.CloseTrade(long.Key(), fpmath.Weth(10), 1100)
	require.NoError(t, err)
	shortQuote, err := m.CloseTrade(short.Key(), fpmath.Weth(10), 1100)
	require.NoError(t, err)

	assert.Equal(t, fpmath.Weth(10), longQuote.FundingFee)
	assert.Equal(t, fpmath.Weth(-10), shortQuote.FundingFee)
	assert.Equal(t, 0, longQuote.Net.Sign())
	assert.Equal(t, fpmath.Weth(15), shortQuote.Net)
}

func TestMarket_QuoteCloseDoesNotMutate(t *testing.T) {
	m := newMarket(t, 24595, 200_000_000)
	pos := openTrade(t, m, alice, 10, true, 100)

	_, err := m.QuoteClose(pos.Key(), fpmath.Weth(11), 1100)
	require.NoError(t, err)

	pair, err := m.PendingPair(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), pair.Borrowing.CurrentBlock)
	assert.Equal(t, 0, pair.Funding.ValueLong.Sign())
	assert.Equal(t, 1, m.PositionCount())
}

func TestMarket_Errors(t *testing.T) {
	m := newMarket(t, 24595, 0)
	pos := openTrade(t, m, alice, 10, true, 100)

	_, err := m.OpenTrade(state.OpenTradeRequest{
		Trader: alice, PairIndex: 0, Collateral: fpmath.Weth(1), Leverage: 5,
		Buy: true, OpenPrice: fpmath.Weth(10), Block: 200,
	})
	assert.ErrorIs(t, err, state.ErrDuplicatePosition)

	_, err = m.OpenTrade(state.OpenTradeRequest{
		Trader: bob, PairIndex: 0, Collateral: fpmath.Weth(1), Leverage: 5,
		Buy: true, OpenPrice: fpmath.Weth(10), Block: 50,
	})
	assert.ErrorIs(t, err, state.ErrBlockRegression)

	_, err = m.OpenTrade(state.OpenTradeRequest{
		Trader: bob, PairIndex: 7, Collateral: fpmath.Weth(1), Leverage: 5,
		Buy: true, OpenPrice: fpmath.Weth(10), Block: 200,
	})
	assert.ErrorIs(t, err, state.ErrUnknownPair)

	_, err = m.CloseTrade(state.PositionKey{Trader: bob, PairIndex: 0, Index: 0}, fpmath.Weth(10), 200)
	assert.ErrorIs(t, err, state.ErrUnknownPosition)

	_, err = m.CloseTrade(pos.Key(), fpmath.Weth(10), 200)
	require.NoError(t, err)
	_, err = m.CloseTrade(pos.Key(), fpmath.Weth(10), 200)
	assert.ErrorIs(t, err, state.ErrUnknownPosition)
}

func TestMarket_FailedEventsDoNotSync(t *testing.T) {
	build := func() (*state.Market, *state.Position) {
		m := newMarket(t, 24595, 200_000_000)
		return m, openTrade(t, m, alice, 10, true, 100)
	}

	m, pos := build()

	_, err := m.CloseTrade(pos.Key(), big.NewInt(0), 500)
	require.Error(t, err)
	err = m.UpdatePairParams(&state.PairFeeParams{
		PairIndex: 0, FeePerBlock: big.NewInt(1), FeeExponent: 0, MaxOi: fpmath.Weth(10),
	}, 600)
	require.Error(t, err)
	require.Error(t, m.UpdateFundingRate(0, big.NewInt(-1), 700))

	pair, err := m.PendingPair(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), pair.Borrowing.CurrentBlock)
	assert.Equal(t, uint64(100), pair.Funding.StoredBlockNumber)
	assert.Equal(t, 1, m.PositionCount())

	// The rejected events leave no trace: closing matches a market that never saw them.
	got, err := m.CloseTrade(pos.Key(), fpmath.Weth(12), 1100)
	require.NoError(t, err)

	clean, cleanPos := build()
	want, err := clean.CloseTrade(cleanPos.Key(), fpmath.Weth(12), 1100)
	require.NoError(t, err)

	assert.Equal(t, want.BorrowingFee, got.BorrowingFee)
	assert.Equal(t, want.FundingFee, got.FundingFee)
	assert.Equal(t, want.Net, got.Net)
}

func TestOpenInterest_NeverNegative(t *testing.T) {
	oi := state.NewOpenInterest()
	require.NoError(t, oi.Add(fpmath.SideShort, fpmath.Weth(5)))

	assert.ErrorIs(t, oi.CanRemove(fpmath.SideShort, fpmath.Weth(6)), state.ErrNegativeOpenInterest)
	assert.NoError(t, oi.CanRemove(fpmath.SideShort, fpmath.Weth(5)))

	err := oi.Remove(fpmath.SideShort, fpmath.Weth(6))
	assert.ErrorIs(t, err, state.ErrNegativeOpenInterest)
	assert.Equal(t, fpmath.Weth(5), oi.Short)
}

func TestValidatePairFeeParams(t *testing.T) {
	valid := &state.PairFeeParams{FeePerBlock: big.NewInt(1), FeeExponent: 1, MaxOi: fpmath.Weth(1)}
	require.NoError(t, state.ValidatePairFeeParams(valid))

	zeroMax := &state.PairFeeParams{FeePerBlock: big.NewInt(1), FeeExponent: 1, MaxOi: big.NewInt(0)}
	assert.Error(t, state.ValidatePairFeeParams(zeroMax))

	zeroExp := &state.PairFeeParams{FeePerBlock: big.NewInt(1), FeeExponent: 0, MaxOi: fpmath.Weth(1)}
	assert.Error(t, state.ValidatePairFeeParams(zeroExp))
}

func TestMarket_OpenPnl(t *testing.T) {
	m := newMarket(t, 0, 0)
	openTrade(t, m, alice, 10, true, 100)

	total, skipped := m.OpenPnl()
	assert.Equal(t, 0, total.Sign())
	assert.Equal(t, 1, skipped)

	m.RecordPrice(0, state.PricePoint{Price: fpmath.Weth(12), Block: 150, Timestamp: 1000})
	total, skipped = m.OpenPnl()
	assert.Equal(t, fpmath.Weth(20), total)
	assert.Equal(t, 0, skipped)
}

func TestMarket_ParamsUpdateKeepsFundingRate(t *testing.T) {
	m := newMarket(t, 24595, 200_000_000)

	require.NoError(t, m.UpdatePairParams(&state.PairFeeParams{
		PairIndex:   0,
		FeePerBlock: big.NewInt(1),
		FeeExponent: 1,
		MaxOi:       fpmath.Weth(10),
	}, 200))

	pair, err := m.PendingPair(0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000_000), pair.Params.FundingFeePerBlockP.Int64())
	assert.Equal(t, int64(1), pair.Params.FeePerBlock.Int64())
}
