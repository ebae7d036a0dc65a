package event

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for observed chain events
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePairParamsUpdated
	EventTypeFundingRateUpdated
	EventTypePriceFed
	EventTypeTradeOpened
	EventTypeTradeClosed
	EventTypeEpochPolled
	EventTypeOpenPnlAnswered
	EventTypeEpochObserved
	EventTypeOpenInterestObserved
)

// EventEnvelope wraps every applied event
type EventEnvelope struct {
	// Monotonic sequence assigned by the core
	Sequence int64

	// tx_hash:log_index, or a poll key for getter observations
	IdempotencyKey string

	EventType EventType

	// Pair context (nil for vault events)
	PairIndex *uint64

	BlockNumber uint64

	// Block time, never wall-clock
	Timestamp time.Time

	// JSON-encoded event
	Payload []byte

	// state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
	StateHash [32]byte
	PrevHash  [32]byte
}

// Event is implemented by every observed event
type Event interface {
	IdempotencyKey() string
	EventType() EventType
	// PairIndex returns the pair context (nil for vault events)
	PairIndex() *uint64
	// SourceSequence is the block number
	SourceSequence() int64
	Timestamp() time.Time
}

// ChainRef locates the log an event was decoded from.
type ChainRef struct {
	TxHash      common.Hash `json:"tx_hash"`
	LogIndex    uint        `json:"log_index"`
	BlockNumber uint64      `json:"block_number"`
	BlockTime   time.Time   `json:"block_time"`
}

func (r ChainRef) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", r.TxHash.Hex(), r.LogIndex)
}

func (r ChainRef) SourceSequence() int64 {
	return int64(r.BlockNumber)
}

func (r ChainRef) Timestamp() time.Time {
	return r.BlockTime
}

// Observation is a getter snapshot taken by the chain poller at a block.
type Observation struct {
	Source      string    `json:"source"`
	BlockNumber uint64    `json:"block_number"`
	BlockTime   time.Time `json:"block_time"`
}

func (o Observation) SourceSequence() int64 {
	return int64(o.BlockNumber)
}

func (o Observation) Timestamp() time.Time {
	return o.BlockTime
}

func (et EventType) String() string {
	switch et {
	case EventTypePairParamsUpdated:
		return "PairParamsUpdated"
	case EventTypeFundingRateUpdated:
		return "FundingRateUpdated"
	case EventTypePriceFed:
		return "PriceFed"
	case EventTypeTradeOpened:
		return "TradeOpened"
	case EventTypeTradeClosed:
		return "TradeClosed"
	case EventTypeEpochPolled:
		return "EpochPolled"
	case EventTypeOpenPnlAnswered:
		return "OpenPnlAnswered"
	case EventTypeEpochObserved:
		return "EpochObserved"
	case EventTypeOpenInterestObserved:
		return "OpenInterestObserved"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) EventType {
	for et := EventTypePairParamsUpdated; et <= EventTypeOpenInterestObserved; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}

func pairRef(p uint64) *uint64 {
	return &p
}
