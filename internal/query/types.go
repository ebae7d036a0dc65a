package query

import (
	"time"

	"github.com/google/uuid"
)

// KindSummary counts checks of one kind.
type KindSummary struct {
	Kind       string `json:"kind"`
	Total      int64  `json:"total"`
	Matched    int64  `json:"matched"`
	Mismatched int64  `json:"mismatched"`
}

// SummaryResponse is the parity overview. AsOfSequence is the last
// persisted event; results never run ahead of it.
type SummaryResponse struct {
	Kinds             []KindSummary `json:"kinds"`
	TotalChecks       int64         `json:"total_checks"`
	TotalMismatches   int64         `json:"total_mismatches"`
	LastMismatchBlock *int64        `json:"last_mismatch_block,omitempty"`
	AsOfSequence      int64         `json:"as_of_sequence"`
}

// CheckResponse is one persisted comparison. Amount fields are integer
// strings in the contract's units; DiffWETH is set for wei-valued checks.
type CheckResponse struct {
	CheckID        uuid.UUID `json:"check_id"`
	Sequence       int64     `json:"sequence"`
	Kind           string    `json:"kind"`
	Field          string    `json:"field"`
	PairIndex      *int64    `json:"pair_index,omitempty"`
	Subject        string    `json:"subject"`
	BlockNumber    int64     `json:"block_number"`
	Expected       string    `json:"expected"`
	Observed       string    `json:"observed"`
	Diff           string    `json:"diff"`
	DiffWETH       string    `json:"diff_weth,omitempty"`
	Matched        bool      `json:"matched"`
	IdempotencyKey string    `json:"idempotency_key"`
	Timestamp      time.Time `json:"timestamp"`
}

// MismatchFilter narrows ListMismatches. BeforeSequence is the cursor:
// pass the last page's smallest sequence to get the next page.
type MismatchFilter struct {
	Kind           *string
	PairIndex      *int64
	BeforeSequence *int64
	Limit          int
}

// MismatchPage is a page of mismatches, newest first.
type MismatchPage struct {
	Mismatches   []CheckResponse `json:"mismatches"`
	NextCursor   *int64          `json:"next_cursor,omitempty"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// IntegrityReport is the result of walking the persisted hash chain.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
	AsOfSequence    int64   `json:"as_of_sequence"`
}

// RollupRow is one kind/field/pair counter from parity.check_rollup.
// PairIndex is nil for vault-level checks.
type RollupRow struct {
	Kind              string `json:"kind"`
	Field             string `json:"field"`
	PairIndex         *int64 `json:"pair_index,omitempty"`
	Checks            int64  `json:"checks"`
	Mismatches        int64  `json:"mismatches"`
	LastMismatchBlock *int64 `json:"last_mismatch_block,omitempty"`
	LastSequence      int64  `json:"last_sequence"`
}

// RollupResponse lists rollup rows. ProjectedSequence is the last event the
// rollup has absorbed and may trail AsOfSequence.
type RollupResponse struct {
	Rows              []RollupRow `json:"rows"`
	ProjectedSequence int64       `json:"projected_sequence"`
	AsOfSequence      int64       `json:"as_of_sequence"`
}
