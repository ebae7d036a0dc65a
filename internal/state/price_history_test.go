package state_test

import (
	"math/big"
	"testing"
	"time"

	"PerpParity/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceHistory_IgnoresStalePoints(t *testing.T) {
	h := state.NewPriceHistory(4)

	assert.True(t, h.Record(1, state.PricePoint{Price: big.NewInt(100), Block: 10, Timestamp: 100}))
	assert.False(t, h.Record(1, state.PricePoint{Price: big.NewInt(90), Block: 9, Timestamp: 90}))
	assert.False(t, h.Record(1, state.PricePoint{Price: big.NewInt(100), Block: 10, Timestamp: 100}))

	latest, ok := h.Latest(1)
	require.True(t, ok)
	assert.Equal(t, int64(100), latest.Price.Int64())
}

func TestPriceHistory_Bounded(t *testing.T) {
	h := state.NewPriceHistory(2)
	for i := int64(1); i <= 5; i++ {
		h.Record(0, state.PricePoint{Price: big.NewInt(i), Block: uint64(i), Timestamp: i})
	}

	// only t=4 and t=5 remain
	_, ok := h.TWAP(0, 0, 3)
	assert.False(t, ok)
	got, ok := h.TWAP(0, 4, 6)
	require.True(t, ok)
	assert.Equal(t, int64(4), got.Int64())
}

func TestPriceHistory_SuggestedFundingRate(t *testing.T) {
	h := state.NewPriceHistory(0)
	h.Record(0, state.PricePoint{Price: big.NewInt(100_000_000_000), Block: 1000, Timestamp: 0})
	h.Record(0, state.PricePoint{Price: big.NewInt(120_000_000_000), Block: 2000, Timestamp: 3600})

	rate, ok := h.SuggestedFundingRate(0, time.Hour)
	require.True(t, ok)
	assert.Equal(t, int64(200_000_000), rate.Int64())

	_, ok = h.SuggestedFundingRate(9, time.Hour)
	assert.False(t, ok)
}
