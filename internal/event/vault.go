package event

import (
	"fmt"
	"math/big"
)

// EpochPolled is a tryNewOpenPnlRequestOrEpoch transaction.
type EpochPolled struct {
	ChainRef
}

func (e *EpochPolled) EventType() EventType { return EventTypeEpochPolled }
func (e *EpochPolled) PairIndex() *uint64   { return nil }

// OpenPnlAnswered is an oracle fulfilling an open-PnL job.
type OpenPnlAnswered struct {
	ChainRef
	JobID  uint64   `json:"job_id"`
	Answer *big.Int `json:"answer"`
}

func (e *OpenPnlAnswered) EventType() EventType { return EventTypeOpenPnlAnswered }
func (e *OpenPnlAnswered) PairIndex() *uint64   { return nil }

// EpochObserved is the vault and open-PnL feed getters read at a block.
type EpochObserved struct {
	Observation
	CurrentEpoch                uint64     `json:"current_epoch"`
	CurrentEpochPositiveOpenPnl *big.Int   `json:"current_epoch_positive_open_pnl"`
	NextEpochValuesRequestCount uint64     `json:"next_epoch_values_request_count"`
	NextEpochValues             []*big.Int `json:"next_epoch_values"`
}

func (e *EpochObserved) IdempotencyKey() string {
	return fmt.Sprintf("%s:epoch:%d", e.Source, e.BlockNumber)
}
func (e *EpochObserved) EventType() EventType { return EventTypeEpochObserved }
func (e *EpochObserved) PairIndex() *uint64   { return nil }

// OpenInterestObserved is getPairOpenInterestWETH read at a block.
type OpenInterestObserved struct {
	Observation
	Pair  uint64   `json:"pair_index"`
	Long  *big.Int `json:"long"`
	Short *big.Int `json:"short"`
}

func (e *OpenInterestObserved) IdempotencyKey() string {
	return fmt.Sprintf("%s:oi:%d:%d", e.Source, e.Pair, e.BlockNumber)
}
func (e *OpenInterestObserved) EventType() EventType { return EventTypeOpenInterestObserved }
func (e *OpenInterestObserved) PairIndex() *uint64   { return pairRef(e.Pair) }
