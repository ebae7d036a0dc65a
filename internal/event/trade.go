package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TradeOpened is emitted by the callbacks contract when a market order fills.
type TradeOpened struct {
	ChainRef
	Trader     common.Address `json:"trader"`
	Pair       uint64         `json:"pair_index"`
	Index      uint64         `json:"index"`
	Collateral *big.Int       `json:"collateral"` // WETH, 1e18
	Leverage   uint64         `json:"leverage"`
	Buy        bool           `json:"buy"`
	OpenPrice  *big.Int       `json:"open_price"` // 1e10
}

func (e *TradeOpened) EventType() EventType { return EventTypeTradeOpened }
func (e *TradeOpened) PairIndex() *uint64   { return pairRef(e.Pair) }

// TradeClosed carries the amount the contracts actually sent to the trader.
// Observed fee fields are optional; when present they are checked too.
type TradeClosed struct {
	ChainRef
	Trader               common.Address `json:"trader"`
	Pair                 uint64         `json:"pair_index"`
	Index                uint64         `json:"index"`
	ClosePrice           *big.Int       `json:"close_price"`
	AmountSentToTrader   *big.Int       `json:"amount_sent_to_trader"`
	ObservedBorrowingFee *big.Int       `json:"borrowing_fee,omitempty"`
	ObservedFundingFee   *big.Int       `json:"funding_fee,omitempty"`
}

func (e *TradeClosed) EventType() EventType { return EventTypeTradeClosed }
func (e *TradeClosed) PairIndex() *uint64   { return pairRef(e.Pair) }
