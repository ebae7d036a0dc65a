package persistence

import (
	"context"
	"database/sql"
)

// EventLogReader pages through parity.events for replay.
type EventLogReader struct {
	db *sql.DB
}

func NewEventLogReader(db *sql.DB) *EventLogReader {
	return &EventLogReader{db: db}
}

// LoadEventsFrom returns up to limit events with sequence > fromSequence.
func (r *EventLogReader) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, pair_index, block_number,
		       payload, state_hash, prev_hash, timestamp
		FROM parity.events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var pairIndex sql.NullInt64
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &pairIndex, &e.BlockNumber,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if pairIndex.Valid {
			v := pairIndex.Int64
			e.PairIndex = &v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSequence returns the highest persisted sequence, or 0 for an empty log.
func (r *EventLogReader) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM parity.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
