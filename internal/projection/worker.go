package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// VaultPairIndex stands in for a nil pair index in parity.check_rollup.
const VaultPairIndex int64 = -1

const workerID = "rollup"

// ProjectionOutput is the slice of a core output the rollup needs.
// The bridge in main converts core.CoreOutput into this.
type ProjectionOutput struct {
	Sequence int64
	Checks   []CheckSummary
}

// CheckSummary is one comparison, reduced to its rollup key and outcome.
type CheckSummary struct {
	Kind        string
	Field       string
	PairIndex   int64
	BlockNumber int64
	Matched     bool
}

// ProjectionWorker keeps parity.check_rollup current. Its channel is fed
// non-blocking with drop; a stale rollup is fixed by Rebuild.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		logger:    logger,
	}
}

// Run loads the watermark and applies outputs until ctx is cancelled or the
// channel closes. Outputs at or below the watermark are skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	if err := pw.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(last_sequence), -1) FROM parity.projection_watermark WHERE worker_id = $1`,
		workerID,
	).Scan(&pw.lastSeq); err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Sequence <= pw.lastSeq {
				continue
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Rollups are eventually consistent; Rebuild recovers them.
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("rollup update failed")
				continue
			}
			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range output.Checks {
		if err := upsertCheck(ctx, tx, c, output.Sequence); err != nil {
			return fmt.Errorf("rollup %s/%s: %w", c.Kind, c.Field, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO parity.projection_watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func upsertCheck(ctx context.Context, tx *sql.Tx, c CheckSummary, sequence int64) error {
	mismatch := int64(0)
	var mismatchBlock sql.NullInt64
	if !c.Matched {
		mismatch = 1
		mismatchBlock = sql.NullInt64{Int64: c.BlockNumber, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO parity.check_rollup
			(kind, field, pair_index, checks, mismatches, last_mismatch_block, last_sequence, updated_at)
		VALUES ($1, $2, $3, 1, $4, $5, $6, NOW())
		ON CONFLICT (kind, field, pair_index) DO UPDATE SET
			checks              = parity.check_rollup.checks + 1,
			mismatches          = parity.check_rollup.mismatches + EXCLUDED.mismatches,
			last_mismatch_block = GREATEST(parity.check_rollup.last_mismatch_block, EXCLUDED.last_mismatch_block),
			last_sequence       = EXCLUDED.last_sequence,
			updated_at          = NOW()
	`, c.Kind, c.Field, c.PairIndex, mismatch, mismatchBlock, sequence)
	return err
}

// Rebuild recomputes parity.check_rollup from parity.results and resets the
// watermark to the last persisted event.
func Rebuild(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE parity.check_rollup`); err != nil {
		return fmt.Errorf("truncate rollup: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO parity.check_rollup
			(kind, field, pair_index, checks, mismatches, last_mismatch_block, last_sequence, updated_at)
		SELECT kind,
		       field,
		       COALESCE(pair_index, -1),
		       COUNT(*),
		       COUNT(*) FILTER (WHERE NOT matched),
		       MAX(block_number) FILTER (WHERE NOT matched),
		       MAX(sequence),
		       NOW()
		FROM parity.results
		GROUP BY kind, field, COALESCE(pair_index, -1)
	`)
	if err != nil {
		return fmt.Errorf("rebuild rollup: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO parity.projection_watermark (worker_id, last_sequence, updated_at)
		SELECT $1::TEXT, COALESCE(MAX(sequence), -1), NOW() FROM parity.events
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, workerID); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	n, _ := res.RowsAffected()
	logger.Info().Int64("rows", n).Msg("rollup rebuilt")
	return nil
}
