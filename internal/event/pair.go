package event

import "math/big"

// PairParamsUpdated is emitted when a pair's borrowing curve changes.
// Idempotency key: tx_hash:log_index.
type PairParamsUpdated struct {
	ChainRef
	Pair        uint64   `json:"pair_index"`
	GroupIndex  uint64   `json:"group_index"`
	FeePerBlock *big.Int `json:"fee_per_block"`
	FeeExponent uint64   `json:"fee_exponent"`
	MaxOi       *big.Int `json:"max_oi"`
}

func (e *PairParamsUpdated) EventType() EventType { return EventTypePairParamsUpdated }
func (e *PairParamsUpdated) PairIndex() *uint64   { return pairRef(e.Pair) }

// FundingRateUpdated sets a pair's funding fee per block.
type FundingRateUpdated struct {
	ChainRef
	Pair                uint64   `json:"pair_index"`
	FundingFeePerBlockP *big.Int `json:"funding_fee_per_block_p"`
}

func (e *FundingRateUpdated) EventType() EventType { return EventTypeFundingRateUpdated }
func (e *FundingRateUpdated) PairIndex() *uint64   { return pairRef(e.Pair) }

// PriceFed is an aggregator price answer.
type PriceFed struct {
	ChainRef
	Pair  uint64   `json:"pair_index"`
	Price *big.Int `json:"price"`
}

func (e *PriceFed) EventType() EventType { return EventTypePriceFed }
func (e *PriceFed) PairIndex() *uint64   { return pairRef(e.Pair) }
