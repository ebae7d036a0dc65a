package core

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// CheckKind names what was compared.
type CheckKind string

const (
	CheckTradeClose   CheckKind = "trade_close"
	CheckOpenInterest CheckKind = "open_interest"
	CheckEpoch        CheckKind = "epoch"
)

var checkNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("perpparity.check"))

// CheckResult is one model value compared against what the chain reported.
type CheckResult struct {
	CheckID        uuid.UUID
	Kind           CheckKind
	Field          string
	PairIndex      *uint64
	Subject        string // position key, "pair:N" or "vault"
	BlockNumber    uint64
	Expected       *big.Int
	Observed       *big.Int
	Matched        bool
	Sequence       int64
	IdempotencyKey string
	Timestamp      time.Time
}

// Diff is observed - expected.
func (r CheckResult) Diff() *big.Int {
	return new(big.Int).Sub(r.Observed, r.Expected)
}

// checkID is derived from the event key and field, so a replayed event
// produces the same id.
func checkID(idempotencyKey string, field string) uuid.UUID {
	return uuid.NewSHA1(checkNamespace, []byte(idempotencyKey+"/"+field))
}

// within reports |observed - expected| <= tolerance.
func within(expected, observed, tolerance *big.Int) bool {
	diff := new(big.Int).Sub(observed, expected)
	return diff.CmpAbs(tolerance) <= 0
}

type checkBuilder struct {
	kind           CheckKind
	pairIndex      *uint64
	subject        string
	block          uint64
	idempotencyKey string
	timestamp      time.Time
	tolerance      *big.Int
	results        []CheckResult
}

func (b *checkBuilder) compare(field string, expected, observed *big.Int) {
	b.results = append(b.results, CheckResult{
		CheckID:        checkID(b.idempotencyKey, field),
		Kind:           b.kind,
		Field:          field,
		PairIndex:      b.pairIndex,
		Subject:        b.subject,
		BlockNumber:    b.block,
		Expected:       new(big.Int).Set(expected),
		Observed:       new(big.Int).Set(observed),
		Matched:        within(expected, observed, b.tolerance),
		IdempotencyKey: b.idempotencyKey,
		Timestamp:      b.timestamp,
	})
}

// Mismatches filters results that did not match.
func Mismatches(results []CheckResult) []CheckResult {
	var out []CheckResult
	for _, r := range results {
		if !r.Matched {
			out = append(out, r)
		}
	}
	return out
}
