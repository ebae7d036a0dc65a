package ingestion

import (
	"PerpParity/internal/event"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethmath "github.com/ethereum/go-ethereum/common/math"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a typed event.Event.
// The ingestion shell validates and converts raw chain events before they reach the core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PairParamsUpdated":
		return parsePairParamsUpdated(raw.Data)
	case "FundingRateUpdated":
		return parseFundingRateUpdated(raw.Data)
	case "PriceFed":
		return parsePriceFed(raw.Data)
	case "TradeOpened":
		return parseTradeOpened(raw.Data)
	case "TradeClosed":
		return parseTradeClosed(raw.Data)
	case "EpochPolled":
		return parseEpochPolled(raw.Data)
	case "OpenPnlAnswered":
		return parseOpenPnlAnswered(raw.Data)
	case "EpochObserved":
		return parseEpochObserved(raw.Data)
	case "OpenInterestObserved":
		return parseOpenInterestObserved(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match the chain indexer. Integers wider than
// 64 bits travel as decimal or 0x-hex strings.

type chainRefJSON struct {
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
	BlockNumber uint64 `json:"block_number"`
	BlockTime   int64  `json:"block_time"` // unix seconds
}

func (j chainRefJSON) ref() (event.ChainRef, error) {
	hash, err := parseHash(j.TxHash)
	if err != nil {
		return event.ChainRef{}, err
	}
	return event.ChainRef{
		TxHash:      hash,
		LogIndex:    j.LogIndex,
		BlockNumber: j.BlockNumber,
		BlockTime:   time.Unix(j.BlockTime, 0).UTC(),
	}, nil
}

type observationJSON struct {
	Source      string `json:"source"`
	BlockNumber uint64 `json:"block_number"`
	BlockTime   int64  `json:"block_time"`
}

func (j observationJSON) observation() event.Observation {
	src := j.Source
	if src == "" {
		src = "indexer"
	}
	return event.Observation{
		Source:      src,
		BlockNumber: j.BlockNumber,
		BlockTime:   time.Unix(j.BlockTime, 0).UTC(),
	}
}

type pairParamsJSON struct {
	chainRefJSON
	PairIndex   uint64 `json:"pair_index"`
	GroupIndex  uint64 `json:"group_index"`
	FeePerBlock string `json:"fee_per_block"`
	FeeExponent uint64 `json:"fee_exponent"`
	MaxOi       string `json:"max_oi"`
}

func parsePairParamsUpdated(data []byte) (*event.PairParamsUpdated, error) {
	var j pairParamsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PairParamsUpdated: %w", err)
	}
	ref, err := j.ref()
	if err != nil {
		return nil, err
	}
	feePerBlock, err := parseBig("fee_per_block", j.FeePerBlock)
	if err != nil {
		return nil, err
	}
	maxOi, err := parseBig("max_oi", j.MaxOi)
	if err != nil {
		return nil, err
	}
	return &event.PairParamsUpdated{
		ChainRef:    ref,
		Pair:        j.PairIndex,
		GroupIndex:  j.GroupIndex,
		FeePerBlock: feePerBlock,
		FeeExponent: j.FeeExponent,
		MaxOi:       maxOi,
	}, nil
}

type fundingRateJSON struct {
	chainRefJSON
	PairIndex           uint64 `json:"pair_index"`
	FundingFeePerBlockP string `json:"funding_fee_per_block_p"`
}

func parseFundingRateUpdated(data []byte) (*event.FundingRateUpdated, error) {
	var j fundingRateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingRateUpdated: %w", err)
	}
	ref, err := j.ref()
	if err != nil {
		return nil, err
	}
	rate, err := parseBig("funding_fee_per_block_p", j.FundingFeePerBlockP)
	if err != nil {
		return nil, err
	}
	return &event.FundingRateUpdated{
		ChainRef:            ref,
		Pair:                j.PairIndex,
		FundingFeePerBlockP: rate,
	}, nil
}

type priceFedJSON struct {
	chainRefJSON
	PairIndex uint64 `json:"pair_index"`
	Price     string `json:"price"`
}

func parsePriceFed(data []byte) (*event.PriceFed, error) {
	var j priceFedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceFed: %w", err)
	}
	ref, err := j.ref()
	if err != nil {
		return nil, err
	}
	price, err := parseBig("price", j.Price)
	if err != nil {
		return nil, err
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive, got %s", price)
	}
	return &event.PriceFed{ChainRef: ref, Pair: j.PairIndex, Price: price}, nil
}

type tradeOpenedJSON struct {
	chainRefJSON
	Trader     string `json:"trader"`
	PairIndex  uint64 `json:"pair_index"`
	Index      uint64 `json:"index"`
	Collateral string `json:"collateral"`
	Leverage   uint64 `json:"leverage"`
	Buy        bool   `json:"buy"`
	OpenPrice  string `json:"open_price"`
}

func parseTradeOpened(data []byte) (*event.TradeOpened, error) {
	var j tradeOpenedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeOpened: %w", err)
	}
	ref, err := j.ref()
	if err != nil {
		return nil, err
	}
	trader, err := parseAddress("trader", j.Trader)
	if err != nil {
		return nil, err
	}
	collateral, err := parseBig("collateral", j.Collateral)
	if err != nil {
		return nil, err
	}
	openPrice, err := parseBig("open_price", j.OpenPrice)
	if err != nil {
		return nil, err
	}
	if j.Leverage == 0 {
		return nil, fmt.Errorf("leverage must be positive")
	}
	return &event.TradeOpened{
		ChainRef:   ref,
		Trader:     trader,
		Pair:       j.PairIndex,
		Index:      j.Index,
		Collateral: collateral,
		Leverage:   j.Leverage,
		Buy:        j.Buy,
		OpenPrice:  openPrice,
	}, nil
}

type tradeClosedJSON struct {
	chainRefJSON
	Trader             string `json:"trader"`
	PairIndex          uint64 `json:"pair_index"`
	Index              uint64 `json:"index"`
	ClosePrice         string `json:"close_price"`
	AmountSentToTrader string `json:"amount_sent_to_trader"`
	BorrowingFee       string `json:"borrowing_fee,omitempty"`
	FundingFee         string `json:"funding_fee,omitempty"`
}

func parseTradeClosed(data []byte) (*event.TradeClosed, error) {
	var j tradeClosedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeClosed: %w", err)
	}
	ref, err := j.ref()
	if err != nil {
		return nil, err
	}
	trader, err := parseAddress("trader", j.Trader)
	if err != nil {
		return nil, err
	}
	closePrice, err := parseBig("close_price", j.ClosePrice)
	if err != nil {
		return nil, err
	}
	sent, err := parseBig("amount_sent_to_trader", j.AmountSentToTrader)
	if err != nil {
		return nil, err
	}
	borrowingFee, err := parseOptionalBig("borrowing_fee", j.BorrowingFee)
	if err != nil {
		return nil, err
	}
	fundingFee, err := parseOptionalBig("funding_fee", j.FundingFee)
	if err != nil {
		return nil, err
	}
	return &event.TradeClosed{
		ChainRef:             ref,
		Trader:               trader,
		Pair:                 j.PairIndex,
		Index:                j.Index,
		ClosePrice:           closePrice,
		AmountSentToTrader:   sent,
		ObservedBorrowingFee: borrowingFee,
		ObservedFundingFee:   fundingFee,
	}, nil
}

func parseEpochPolled(data []byte) (*event.EpochPolled, error) {
	var j chainRefJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EpochPolled: %w", err)
	}
	ref, err := j.ref()
	if err != nil {
		return nil, err
	}
	return &event.EpochPolled{ChainRef: ref}, nil
}

type openPnlAnsweredJSON struct {
	chainRefJSON
	JobID  uint64 `json:"job_id"`
	Answer string `json:"answer"`
}

func parseOpenPnlAnswered(data []byte) (*event.OpenPnlAnswered, error) {
	var j openPnlAnsweredJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenPnlAnswered: %w", err)
	}
	ref, err := j.ref()
	if err != nil {
		return nil, err
	}
	answer, err := parseBig("answer", j.Answer)
	if err != nil {
		return nil, err
	}
	return &event.OpenPnlAnswered{ChainRef: ref, JobID: j.JobID, Answer: answer}, nil
}

type epochObservedJSON struct {
	observationJSON
	CurrentEpoch                uint64   `json:"current_epoch"`
	CurrentEpochPositiveOpenPnl string   `json:"current_epoch_positive_open_pnl"`
	NextEpochValuesRequestCount uint64   `json:"next_epoch_values_request_count"`
	NextEpochValues             []string `json:"next_epoch_values"`
}

func parseEpochObserved(data []byte) (*event.EpochObserved, error) {
	var j epochObservedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EpochObserved: %w", err)
	}
	pnl, err := parseBig("current_epoch_positive_open_pnl", j.CurrentEpochPositiveOpenPnl)
	if err != nil {
		return nil, err
	}
	values := make([]*big.Int, 0, len(j.NextEpochValues))
	for i, s := range j.NextEpochValues {
		v, err := parseBig(fmt.Sprintf("next_epoch_values[%d]", i), s)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return &event.EpochObserved{
		Observation:                 j.observation(),
		CurrentEpoch:                j.CurrentEpoch,
		CurrentEpochPositiveOpenPnl: pnl,
		NextEpochValuesRequestCount: j.NextEpochValuesRequestCount,
		NextEpochValues:             values,
	}, nil
}

type openInterestObservedJSON struct {
	observationJSON
	PairIndex uint64 `json:"pair_index"`
	Long      string `json:"long"`
	Short     string `json:"short"`
}

func parseOpenInterestObserved(data []byte) (*event.OpenInterestObserved, error) {
	var j openInterestObservedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenInterestObserved: %w", err)
	}
	long, err := parseBig("long", j.Long)
	if err != nil {
		return nil, err
	}
	short, err := parseBig("short", j.Short)
	if err != nil {
		return nil, err
	}
	return &event.OpenInterestObserved{
		Observation: j.observation(),
		Pair:        j.PairIndex,
		Long:        long,
		Short:       short,
	}, nil
}

// parseBig accepts decimal or 0x-hex, as the chain indexer emits both.
// Negative decimals are allowed for signed fields.
func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("parse %s: missing value", field)
	}
	if s[0] == '-' {
		v, ok := gethmath.ParseBig256(s[1:])
		if !ok {
			return nil, fmt.Errorf("parse %s: invalid integer %q", field, s)
		}
		return v.Neg(v), nil
	}
	v, ok := gethmath.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("parse %s: invalid integer %q", field, s)
	}
	return v, nil
}

func parseOptionalBig(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseBig(field, s)
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("parse %s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("parse tx_hash: invalid hash %q", s)
	}
	return common.BytesToHash(b), nil
}
