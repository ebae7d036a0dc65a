package projection_test

import (
	"context"
	"testing"

	"PerpParity/internal/persistence"
	"PerpParity/internal/projection"
	"PerpParity/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectionWorker_RollupAndRebuild(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	_, err := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop()).Up(ctx)
	require.NoError(t, err)
	require.NoError(t, projection.Rebuild(ctx, db, zerolog.Nop()))

	in := make(chan projection.ProjectionOutput, 4)
	in <- projection.ProjectionOutput{Sequence: 0, Checks: []projection.CheckSummary{
		{Kind: "open_interest", Field: "long", PairIndex: 2, BlockNumber: 100, Matched: true},
		{Kind: "epoch", Field: "current_epoch", PairIndex: projection.VaultPairIndex, BlockNumber: 100, Matched: true},
	}}
	in <- projection.ProjectionOutput{Sequence: 1, Checks: []projection.CheckSummary{
		{Kind: "open_interest", Field: "long", PairIndex: 2, BlockNumber: 160, Matched: false},
	}}
	// Redelivered sequence is ignored.
	in <- projection.ProjectionOutput{Sequence: 1, Checks: []projection.CheckSummary{
		{Kind: "open_interest", Field: "long", PairIndex: 2, BlockNumber: 160, Matched: false},
	}}
	close(in)
	require.NoError(t, projection.NewProjectionWorker(db, in, zerolog.Nop()).Run(ctx))

	var checks, mismatches, lastBlock int64
	require.NoError(t, db.QueryRowContext(ctx, `
		SELECT checks, mismatches, last_mismatch_block FROM parity.check_rollup
		WHERE kind = 'open_interest' AND field = 'long' AND pair_index = 2
	`).Scan(&checks, &mismatches, &lastBlock))
	assert.Equal(t, int64(2), checks)
	assert.Equal(t, int64(1), mismatches)
	assert.Equal(t, int64(160), lastBlock)

	var watermark int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT last_sequence FROM parity.projection_watermark WHERE worker_id = 'rollup'`,
	).Scan(&watermark))
	assert.Equal(t, int64(1), watermark)

	// parity.results is empty, so a rebuild clears the rollup.
	require.NoError(t, projection.Rebuild(ctx, db, zerolog.Nop()))
	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parity.check_rollup`).Scan(&rows))
	assert.Equal(t, 0, rows)
}
