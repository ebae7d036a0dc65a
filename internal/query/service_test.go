package query

import (
	"context"
	"testing"
	"time"

	"PerpParity/internal/persistence"
	"PerpParity/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatWETH(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1000000000000000000", "1"},
		{"-200000000", "-0.0000000002"},
		{"29999999999800000000", "29.9999999998"},
		{"0", "0"},
		{"not-a-number", "not-a-number"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatWETH(tt.in), tt.in)
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultPageSize, clampLimit(0))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, maxPageSize, clampLimit(10_000))
}

func TestIsWeiValued(t *testing.T) {
	assert.True(t, isWeiValued("trade_close", "borrowing_fee"))
	assert.True(t, isWeiValued("epoch", "current_epoch_positive_open_pnl"))
	assert.False(t, isWeiValued("epoch", "current_epoch"))
}

func TestQueryService_Integration(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	_, err := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop()).Up(ctx)
	require.NoError(t, err)

	ts := time.Now().UTC()
	hash := func(b byte) []byte {
		h := make([]byte, 32)
		h[0] = b
		return h
	}
	w := persistence.NewEventLogWriter()
	require.NoError(t, w.WriteEventBatch(ctx, db, []persistence.EventRow{
		{Sequence: 1, EventType: "TradeClosed", IdempotencyKey: "a", BlockNumber: 5, Payload: []byte(`{}`), StateHash: hash(1), PrevHash: hash(0), Timestamp: ts},
		{Sequence: 2, EventType: "TradeClosed", IdempotencyKey: "b", BlockNumber: 6, Payload: []byte(`{}`), StateHash: hash(2), PrevHash: hash(9), Timestamp: ts},
	}))

	id := uuid.New()
	require.NoError(t, w.WriteResultBatch(ctx, db, []persistence.ResultRow{
		{CheckID: uuid.NewString(), Sequence: 1, Kind: "trade_close", Field: "amount_sent_to_trader", Subject: "x", BlockNumber: 5, Expected: "1", Observed: "1", Diff: "0", Matched: true, IdempotencyKey: "a", Timestamp: ts},
		{CheckID: id.String(), Sequence: 2, Kind: "trade_close", Field: "amount_sent_to_trader", Subject: "y", BlockNumber: 6, Expected: "1", Observed: "3", Diff: "2", Matched: false, IdempotencyKey: "b", Timestamp: ts},
	}))

	qs := NewQueryService(db)

	sum, err := qs.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.AsOfSequence)
	assert.Equal(t, int64(2), sum.TotalChecks)
	assert.Equal(t, int64(1), sum.TotalMismatches)
	require.NotNil(t, sum.LastMismatchBlock)
	assert.Equal(t, int64(6), *sum.LastMismatchBlock)

	page, err := qs.ListMismatches(ctx, MismatchFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Mismatches, 1)
	assert.Equal(t, id, page.Mismatches[0].CheckID)
	assert.Equal(t, "0.000000000000000002", page.Mismatches[0].DiffWETH)
	require.NotNil(t, page.NextCursor)

	next, err := qs.ListMismatches(ctx, MismatchFilter{Limit: 1, BeforeSequence: page.NextCursor})
	require.NoError(t, err)
	assert.Empty(t, next.Mismatches)

	_, err = qs.GetCheck(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []int64{2}, report.HashChainBreaks)
}
