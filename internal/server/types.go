package server

import (
	"math/big"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Amount fields are integer strings in contract units; *_weth and *_pct
// fields are the same values as decimals.

type closeQuoteResponse struct {
	Position     string `json:"position"`
	Block        uint64 `json:"block"`
	ClosePrice   string `json:"close_price"`
	ProfitP      string `json:"profit_p"`
	ProfitPct    string `json:"profit_pct"`
	Gross        string `json:"gross"`
	BorrowingFee string `json:"borrowing_fee"`
	FundingFee   string `json:"funding_fee"`
	Net          string `json:"net"`
	NetWETH      string `json:"net_weth"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type feeQuoteResponse struct {
	Position     string `json:"position"`
	Block        uint64 `json:"block"`
	Fee          string `json:"fee"`
	FeeWETH      string `json:"fee_weth"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type pairResponse struct {
	PairIndex                    uint64    `json:"pair_index"`
	GroupIndex                   uint64    `json:"group_index"`
	FeePerBlock                  string    `json:"fee_per_block"`
	FeeExponent                  uint64    `json:"fee_exponent"`
	MaxOi                        string    `json:"max_oi"`
	FundingFeePerBlockP          string    `json:"funding_fee_per_block_p"`
	Block                        uint64    `json:"block"`
	OpenInterestLong             string    `json:"open_interest_long"`
	OpenInterestShort            string    `json:"open_interest_short"`
	OpenInterestWETH             [2]string `json:"open_interest_weth"`
	AccFeeLong                   string    `json:"acc_fee_long"`
	AccFeeShort                  string    `json:"acc_fee_short"`
	FundingValueLong             string    `json:"funding_value_long"`
	FundingValueShort            string    `json:"funding_value_short"`
	LatestPrice                  string    `json:"latest_price,omitempty"`
	LatestPriceBlock             uint64    `json:"latest_price_block,omitempty"`
	SuggestedFundingFeePerBlockP string    `json:"suggested_funding_fee_per_block_p,omitempty"`
	Positions                    int       `json:"positions"`
	AsOfSequence                 int64     `json:"as_of_sequence"`
}

type requestResponse struct {
	ID      uint64   `json:"id"`
	JobIDs  []uint64 `json:"job_ids"`
	Answers int      `json:"answers"`
	Median  string   `json:"median,omitempty"`
}

type epochResponse struct {
	CurrentEpoch                uint64            `json:"current_epoch"`
	EpochStart                  time.Time         `json:"epoch_start"`
	Phase                       string            `json:"phase"`
	CurrentEpochPositiveOpenPnl string            `json:"current_epoch_positive_open_pnl"`
	NextEpochValuesRequestCount int               `json:"next_epoch_values_request_count"`
	NextEpochValues             []string          `json:"next_epoch_values"`
	LastRequestTime             *time.Time        `json:"last_request_time,omitempty"`
	Requests                    []requestResponse `json:"requests,omitempty"`
	ModelOpenPnl                string            `json:"model_open_pnl"`
	ModelOpenPnlWETH            string            `json:"model_open_pnl_weth"`
	UnpricedPositions           int               `json:"unpriced_positions"`
	AsOfSequence                int64             `json:"as_of_sequence"`
}

func weth(v *big.Int) string {
	return scaled(v, 18)
}

// scaled renders v / 10^decimals.
func scaled(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

func bigStrings(vs []*big.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

func sortRequests(rs []requestResponse) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}
