package state

import (
	"fmt"
	"math/big"
)

// PairFeeParams is the per-pair fee curve.
type PairFeeParams struct {
	PairIndex           uint64
	GroupIndex          uint64
	FeePerBlock         *big.Int // 1e10 scale
	FeeExponent         uint64
	MaxOi               *big.Int // 1e18 scale
	FundingFeePerBlockP *big.Int // 1e10 percent
	EffectiveBlock      uint64   // block at which the params took effect
}

// ValidatePairFeeParams checks fee params are usable by the accrual models:
// fee_per_block >= 0, fee_exponent >= 1, max_oi > 0, funding rate >= 0.
func ValidatePairFeeParams(p *PairFeeParams) error {
	if p.FeePerBlock == nil || p.FeePerBlock.Sign() < 0 {
		return fmt.Errorf("fee_per_block must be >= 0, got %v", p.FeePerBlock)
	}
	if p.FeeExponent == 0 {
		return fmt.Errorf("fee_exponent must be >= 1")
	}
	if p.MaxOi == nil || p.MaxOi.Sign() <= 0 {
		return fmt.Errorf("max_oi must be > 0, got %v", p.MaxOi)
	}
	if p.FundingFeePerBlockP != nil && p.FundingFeePerBlockP.Sign() < 0 {
		return fmt.Errorf("funding_fee_per_block_p must be >= 0, got %v", p.FundingFeePerBlockP)
	}
	return nil
}

func (p *PairFeeParams) Clone() *PairFeeParams {
	out := *p
	out.FeePerBlock = new(big.Int).Set(p.FeePerBlock)
	out.MaxOi = new(big.Int).Set(p.MaxOi)
	if p.FundingFeePerBlockP != nil {
		out.FundingFeePerBlockP = new(big.Int).Set(p.FundingFeePerBlockP)
	} else {
		out.FundingFeePerBlockP = new(big.Int)
	}
	return &out
}

// PairParamsStore holds the current fee params per pair.
type PairParamsStore struct {
	params map[uint64]*PairFeeParams
}

func NewPairParamsStore() *PairParamsStore {
	return &PairParamsStore{
		params: make(map[uint64]*PairFeeParams),
	}
}

func (s *PairParamsStore) Get(pairIndex uint64) (*PairFeeParams, bool) {
	p, ok := s.params[pairIndex]
	return p, ok
}

// Put validates and stores params. Callers settle accumulators with the
// previous params before calling Put.
func (s *PairParamsStore) Put(p *PairFeeParams) error {
	if err := ValidatePairFeeParams(p); err != nil {
		return fmt.Errorf("invalid fee params for pair %d: %w", p.PairIndex, err)
	}
	s.set(p)
	return nil
}

// set stores params already checked by ValidatePairFeeParams.
func (s *PairParamsStore) set(p *PairFeeParams) {
	s.params[p.PairIndex] = p.Clone()
}

// Pairs returns the known pair indices in no particular order.
func (s *PairParamsStore) Pairs() []uint64 {
	out := make([]uint64, 0, len(s.params))
	for k := range s.params {
		out = append(out, k)
	}
	return out
}
