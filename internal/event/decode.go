package event

import (
	"encoding/json"
	"fmt"
)

// Decode rebuilds a typed event from an envelope payload written by the
// core. Used when replaying parity.events on startup.
func Decode(eventType string, payload []byte) (Event, error) {
	var evt Event
	switch ParseEventType(eventType) {
	case EventTypePairParamsUpdated:
		evt = &PairParamsUpdated{}
	case EventTypeFundingRateUpdated:
		evt = &FundingRateUpdated{}
	case EventTypePriceFed:
		evt = &PriceFed{}
	case EventTypeTradeOpened:
		evt = &TradeOpened{}
	case EventTypeTradeClosed:
		evt = &TradeClosed{}
	case EventTypeEpochPolled:
		evt = &EpochPolled{}
	case EventTypeOpenPnlAnswered:
		evt = &OpenPnlAnswered{}
	case EventTypeEpochObserved:
		evt = &EpochObserved{}
	case EventTypeOpenInterestObserved:
		evt = &OpenInterestObserved{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}
