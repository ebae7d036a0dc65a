package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	wethDecimals    = 18
)

// ErrNotFound is returned when a check id has no row.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to parity.events and parity.results.
// Every response carries as_of_sequence so callers can tell how fresh it is.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// Summary counts checks per kind.
func (qs *QueryService) Summary(ctx context.Context) (*SummaryResponse, error) {
	asOfSeq, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT kind,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE matched),
		       COUNT(*) FILTER (WHERE NOT matched)
		FROM parity.results
		GROUP BY kind
		ORDER BY kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &SummaryResponse{Kinds: []KindSummary{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var k KindSummary
		if err := rows.Scan(&k.Kind, &k.Total, &k.Matched, &k.Mismatched); err != nil {
			return nil, err
		}
		resp.Kinds = append(resp.Kinds, k)
		resp.TotalChecks += k.Total
		resp.TotalMismatches += k.Mismatched
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	if err := qs.db.QueryRowContext(ctx,
		`SELECT MAX(block_number) FROM parity.results WHERE NOT matched`,
	).Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		resp.LastMismatchBlock = &last.Int64
	}
	return resp, nil
}

// ListMismatches returns failed checks newest first with cursor pagination.
func (qs *QueryService) ListMismatches(ctx context.Context, f MismatchFilter) (*MismatchPage, error) {
	asOfSeq, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	limit := clampLimit(f.Limit)
	query := `SELECT ` + checkColumns + ` FROM parity.results WHERE NOT matched`
	args := []interface{}{}
	argIdx := 1

	if f.Kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, *f.Kind)
		argIdx++
	}
	if f.PairIndex != nil {
		query += fmt.Sprintf(" AND pair_index = $%d", argIdx)
		args = append(args, *f.PairIndex)
		argIdx++
	}
	if f.BeforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *f.BeforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, field ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &MismatchPage{Mismatches: []CheckResponse{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		page.Mismatches = append(page.Mismatches, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Mismatches) == limit {
		cursor := page.Mismatches[len(page.Mismatches)-1].Sequence
		page.NextCursor = &cursor
	}
	return page, nil
}

// GetCheck returns one check by id.
func (qs *QueryService) GetCheck(ctx context.Context, id uuid.UUID) (*CheckResponse, error) {
	row := qs.db.QueryRowContext(ctx,
		`SELECT `+checkColumns+` FROM parity.results WHERE check_id = $1`, id)
	c, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// --- Admin APIs ---

// VerifyIntegrity checks that each persisted prev_hash equals the previous
// event's state_hash and that sequences have no holes.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.watermark(ctx)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM parity.events e1
		JOIN parity.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	report.HashChainBreaks, err = scanInt64s(rows)
	if err != nil {
		return nil, err
	}

	rows, err = qs.db.QueryContext(ctx, `
		SELECT sequence FROM (
			SELECT sequence, LAG(sequence) OVER (ORDER BY sequence) AS prev
			FROM parity.events
		) s
		WHERE prev IS NOT NULL AND sequence != prev + 1
		ORDER BY sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	report.SequenceGaps, err = scanInt64s(rows)
	if err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SequenceGaps) == 0
	return report, nil
}

// Rollup reads the per kind/field/pair counters, optionally for one kind.
func (qs *QueryService) Rollup(ctx context.Context, kind *string) (*RollupResponse, error) {
	asOfSeq, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &RollupResponse{Rows: []RollupRow{}, AsOfSequence: asOfSeq}
	if err := qs.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(last_sequence), -1) FROM parity.projection_watermark WHERE worker_id = 'rollup'`,
	).Scan(&resp.ProjectedSequence); err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT kind, field, pair_index, checks, mismatches, last_mismatch_block, last_sequence
		FROM parity.check_rollup
		WHERE ($1::TEXT IS NULL OR kind = $1)
		ORDER BY kind, field, pair_index
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r RollupRow
		var pairIndex int64
		var lastMismatch sql.NullInt64
		if err := rows.Scan(&r.Kind, &r.Field, &pairIndex, &r.Checks, &r.Mismatches, &lastMismatch, &r.LastSequence); err != nil {
			return nil, err
		}
		if pairIndex >= 0 {
			r.PairIndex = &pairIndex
		}
		if lastMismatch.Valid {
			r.LastMismatchBlock = &lastMismatch.Int64
		}
		resp.Rows = append(resp.Rows, r)
	}
	return resp, rows.Err()
}

// --- helpers ---

const checkColumns = `check_id, sequence, kind, field, pair_index, subject, block_number,
	expected::TEXT, observed::TEXT, diff::TEXT, matched, idempotency_key, timestamp`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCheck(s scanner) (*CheckResponse, error) {
	var c CheckResponse
	var pairIndex sql.NullInt64
	if err := s.Scan(
		&c.CheckID, &c.Sequence, &c.Kind, &c.Field, &pairIndex, &c.Subject, &c.BlockNumber,
		&c.Expected, &c.Observed, &c.Diff, &c.Matched, &c.IdempotencyKey, &c.Timestamp,
	); err != nil {
		return nil, err
	}
	if pairIndex.Valid {
		c.PairIndex = &pairIndex.Int64
	}
	if isWeiValued(c.Kind, c.Field) {
		c.DiffWETH = FormatWETH(c.Diff)
	}
	return &c, nil
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// isWeiValued reports whether the compared amount is denominated in WETH wei.
func isWeiValued(kind, field string) bool {
	switch kind {
	case "trade_close", "open_interest":
		return true
	case "epoch":
		return field == "current_epoch_positive_open_pnl"
	}
	return false
}

// FormatWETH renders an integer wei string as a WETH decimal. Unparseable
// input is returned as-is.
func FormatWETH(wei string) string {
	d, err := decimal.NewFromString(wei)
	if err != nil {
		return wei
	}
	return d.Shift(-wethDecimals).String()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func (qs *QueryService) watermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM parity.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
