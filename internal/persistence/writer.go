package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventRow is a row in parity.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	PairIndex      *int64
	BlockNumber    int64
	Payload        []byte // JSON-encoded event
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// ResultRow is a row in parity.results. Amounts are decimal strings.
type ResultRow struct {
	CheckID        string
	Sequence       int64
	Kind           string
	Field          string
	PairIndex      *int64
	Subject        string
	BlockNumber    int64
	Expected       string
	Observed       string
	Diff           string
	Matched        bool
	IdempotencyKey string
	Timestamp      time.Time
}

var (
	eventColumns = []string{
		"sequence", "event_type", "idempotency_key", "pair_index", "block_number",
		"payload", "state_hash", "prev_hash", "timestamp",
	}
	resultColumns = []string{
		"check_id", "sequence", "kind", "field", "pair_index", "subject", "block_number",
		"expected", "observed", "diff", "matched", "idempotency_key", "timestamp",
	}
)

// EventLogWriter batch-inserts events and check results with multi-row INSERTs.
type EventLogWriter struct{}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

// WriteEventBatch inserts events; re-written sequences are ignored.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(events)*len(eventColumns))
	for _, e := range events {
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.PairIndex, e.BlockNumber,
			string(e.Payload), e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query := buildInsert("parity.events", eventColumns, len(events), "ON CONFLICT (sequence) DO NOTHING")
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteResultBatch inserts check results; check ids are deterministic, so
// replays are ignored.
func (w *EventLogWriter) WriteResultBatch(ctx context.Context, ex execer, results []ResultRow) error {
	if len(results) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(results)*len(resultColumns))
	for _, r := range results {
		args = append(args,
			r.CheckID, r.Sequence, r.Kind, r.Field, r.PairIndex, r.Subject, r.BlockNumber,
			r.Expected, r.Observed, r.Diff, r.Matched, r.IdempotencyKey, r.Timestamp,
		)
	}

	query := buildInsert("parity.results", resultColumns, len(results), "ON CONFLICT (check_id) DO NOTHING")
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// buildInsert renders INSERT INTO table (cols) VALUES ($1, ...), ... suffix.
func buildInsert(table string, columns []string, rows int, suffix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	n := len(columns)
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 0; j < n; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*n+j+1)
		}
		b.WriteByte(')')
	}

	if suffix != "" {
		b.WriteByte(' ')
		b.WriteString(suffix)
	}
	return b.String()
}
