package state

import (
	"fmt"
	"math/big"

	fpmath "PerpParity/internal/math"
)

// AccFeeState is the pair's borrowing-fee accumulator. Both sides only grow.
type AccFeeState struct {
	AccFeeLong   *big.Int
	AccFeeShort  *big.Int
	CurrentBlock uint64
}

// FundingAccumulator is the pair's signed per-unit funding accumulator.
type FundingAccumulator struct {
	ValueLong         *big.Int
	ValueShort        *big.Int
	StoredBlockNumber uint64
}

func (a AccFeeState) Side(side fpmath.Side) *big.Int {
	if side == fpmath.SideLong {
		return a.AccFeeLong
	}
	return a.AccFeeShort
}

func (f FundingAccumulator) Side(side fpmath.Side) *big.Int {
	if side == fpmath.SideLong {
		return f.ValueLong
	}
	return f.ValueShort
}

// PairState is everything the fee models need for one pair.
type PairState struct {
	Params    *PairFeeParams
	OI        OpenInterest
	Borrowing AccFeeState
	Funding   FundingAccumulator
}

// NewPairState starts empty accumulators at block.
func NewPairState(params *PairFeeParams, block uint64) *PairState {
	return &PairState{
		Params: params.Clone(),
		OI:     NewOpenInterest(),
		Borrowing: AccFeeState{
			AccFeeLong:   new(big.Int),
			AccFeeShort:  new(big.Int),
			CurrentBlock: block,
		},
		Funding: FundingAccumulator{
			ValueLong:         new(big.Int),
			ValueShort:        new(big.Int),
			StoredBlockNumber: block,
		},
	}
}

// Sync accrues borrowing and funding from the last stored block up to block
// using the current open interest and params. Syncing twice at the same block
// is a no-op.
func (p *PairState) Sync(block uint64) error {
	if block < p.Borrowing.CurrentBlock || block < p.Funding.StoredBlockNumber {
		return fmt.Errorf("%w: pair %d at block %d, got %d",
			ErrBlockRegression, p.Params.PairIndex, p.Borrowing.CurrentBlock, block)
	}

	accLong, accShort := fpmath.AccrueBorrowing(
		p.Borrowing.AccFeeLong, p.Borrowing.AccFeeShort,
		p.OI.Long, p.OI.Short,
		block, p.Borrowing.CurrentBlock,
		p.Params.FeePerBlock, p.Params.FeeExponent, p.Params.MaxOi,
	)
	p.Borrowing = AccFeeState{AccFeeLong: accLong, AccFeeShort: accShort, CurrentBlock: block}

	delta := fpmath.FundingDelta(
		p.OI.Long, p.OI.Short,
		block, p.Funding.StoredBlockNumber,
		p.Params.FundingFeePerBlockP,
	)
	valueLong, valueShort := fpmath.UpdateFundingAccumulator(
		p.OI.Long, p.OI.Short,
		p.Funding.ValueLong, p.Funding.ValueShort,
		delta,
	)
	p.Funding = FundingAccumulator{ValueLong: valueLong, ValueShort: valueShort, StoredBlockNumber: block}

	return nil
}

// Clone returns a deep copy for quoting without mutation.
func (p *PairState) Clone() *PairState {
	return &PairState{
		Params: p.Params.Clone(),
		OI:     p.OI.Clone(),
		Borrowing: AccFeeState{
			AccFeeLong:   new(big.Int).Set(p.Borrowing.AccFeeLong),
			AccFeeShort:  new(big.Int).Set(p.Borrowing.AccFeeShort),
			CurrentBlock: p.Borrowing.CurrentBlock,
		},
		Funding: FundingAccumulator{
			ValueLong:         new(big.Int).Set(p.Funding.ValueLong),
			ValueShort:        new(big.Int).Set(p.Funding.ValueShort),
			StoredBlockNumber: p.Funding.StoredBlockNumber,
		},
	}
}
