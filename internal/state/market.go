package state

import (
	"fmt"
	"math/big"

	fpmath "PerpParity/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// MarketConfig tunes the fee and PnL models applied by Market.
type MarketConfig struct {
	Limits           fpmath.PnlLimits
	FundingRounding  fpmath.FundingRoundingPolicy
	PriceHistorySize int
}

func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		Limits:           fpmath.DefaultPnlLimits(),
		FundingRounding:  fpmath.FundingRoundTowardZero,
		PriceHistorySize: 1024,
	}
}

// Market is the replica of the protocol's per-pair fee state and open
// positions. Not thread-safe; owned by the single-threaded core.
type Market struct {
	cfg    MarketConfig
	params *PairParamsStore
	pairs  map[uint64]*PairState
	book   *PositionBook
	prices *PriceHistory
}

func NewMarket(cfg MarketConfig) *Market {
	return &Market{
		cfg:    cfg,
		params: NewPairParamsStore(),
		pairs:  make(map[uint64]*PairState),
		book:   NewPositionBook(),
		prices: NewPriceHistory(cfg.PriceHistorySize),
	}
}

func (m *Market) Config() MarketConfig {
	return m.cfg
}

// UpdatePairParams settles the pair's accumulators at block with the old
// params, then switches to p. A nil funding rate keeps the pair's current one.
func (m *Market) UpdatePairParams(p *PairFeeParams, block uint64) error {
	keepFunding := p.FundingFeePerBlockP == nil
	p = p.Clone()
	p.EffectiveBlock = block

	pair, ok := m.pairs[p.PairIndex]
	if !ok {
		if err := m.params.Put(p); err != nil {
			return err
		}
		m.pairs[p.PairIndex] = NewPairState(p, block)
		return nil
	}

	if keepFunding {
		p.FundingFeePerBlockP = new(big.Int).Set(pair.Params.FundingFeePerBlockP)
	}
	if err := ValidatePairFeeParams(p); err != nil {
		return fmt.Errorf("invalid fee params for pair %d: %w", p.PairIndex, err)
	}
	// Nothing below may fail once the pair is synced.
	if err := pair.Sync(block); err != nil {
		return err
	}
	m.params.set(p)
	pair.Params = p
	return nil
}

// UpdateFundingRate settles funding at block and sets the new per-block rate.
func (m *Market) UpdateFundingRate(pairIndex uint64, rate *big.Int, block uint64) error {
	pair, err := m.pair(pairIndex)
	if err != nil {
		return err
	}
	if rate.Sign() < 0 {
		return fmt.Errorf("funding rate must be >= 0, got %s", rate)
	}

	p := pair.Params.Clone()
	p.FundingFeePerBlockP = new(big.Int).Set(rate)
	p.EffectiveBlock = block
	if err := ValidatePairFeeParams(p); err != nil {
		return fmt.Errorf("invalid fee params for pair %d: %w", p.PairIndex, err)
	}
	if err := pair.Sync(block); err != nil {
		return err
	}
	m.params.set(p)
	pair.Params = p
	return nil
}

func (m *Market) RecordPrice(pairIndex uint64, pt PricePoint) bool {
	return m.prices.Record(pairIndex, pt)
}

func (m *Market) Prices() *PriceHistory {
	return m.prices
}

// OpenTradeRequest carries what the trading contract emits on open.
type OpenTradeRequest struct {
	Trader     common.Address
	PairIndex  uint64
	Index      uint64
	Collateral *big.Int
	Leverage   uint64
	Buy        bool
	OpenPrice  *big.Int
	Block      uint64
	Timestamp  int64
}

// OpenTrade syncs the pair at the open block, snapshots the accumulators of
// the trade's side, then adds its size to open interest.
func (m *Market) OpenTrade(req OpenTradeRequest) (*Position, error) {
	pair, err := m.pair(req.PairIndex)
	if err != nil {
		return nil, err
	}
	if req.Leverage == 0 {
		return nil, fmt.Errorf("leverage must be > 0")
	}
	if req.Collateral == nil || req.Collateral.Sign() <= 0 {
		return nil, fmt.Errorf("collateral must be > 0, got %v", req.Collateral)
	}
	if req.OpenPrice == nil || req.OpenPrice.Sign() <= 0 {
		return nil, fmt.Errorf("open price must be > 0, got %v", req.OpenPrice)
	}

	key := PositionKey{Trader: req.Trader, PairIndex: req.PairIndex, Index: req.Index}
	if _, exists := m.book.Get(key); exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePosition, key)
	}

	if err := pair.Sync(req.Block); err != nil {
		return nil, err
	}

	side := fpmath.SideFromBuy(req.Buy)
	pos := &Position{
		Trader:            req.Trader,
		PairIndex:         req.PairIndex,
		Index:             req.Index,
		Collateral:        new(big.Int).Set(req.Collateral),
		Leverage:          req.Leverage,
		Buy:               req.Buy,
		OpenPrice:         new(big.Int).Set(req.OpenPrice),
		InitialPairAccFee: new(big.Int).Set(pair.Borrowing.Side(side)),
		Funding:           new(big.Int).Set(pair.Funding.Side(side)),
		OpenBlock:         req.Block,
		OpenTime:          req.Timestamp,
	}

	if err := pair.OI.Add(side, pos.Size()); err != nil {
		return nil, err
	}
	if err := m.book.Insert(pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// CloseQuote is the modelled outcome of closing a position.
type CloseQuote struct {
	Position     *Position
	ClosePrice   *big.Int
	Block        uint64
	ProfitP      *big.Int // clamped, 1e10 percent
	Gross        *big.Int // before fees
	BorrowingFee *big.Int
	FundingFee   *big.Int // signed; negative is a credit
	Net          *big.Int // sent to the trader
}

// CloseTrade settles the pair at block, prices the close and removes the
// position and its open interest.
func (m *Market) CloseTrade(key PositionKey, closePrice *big.Int, block uint64) (*CloseQuote, error) {
	pair, err := m.pair(key.PairIndex)
	if err != nil {
		return nil, err
	}
	pos, ok := m.book.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPosition, key)
	}
	if closePrice == nil || closePrice.Sign() <= 0 {
		return nil, fmt.Errorf("close price must be > 0, got %v", closePrice)
	}
	if err := pair.OI.CanRemove(pos.Side(), pos.Size()); err != nil {
		return nil, err
	}

	// Nothing below may fail once the pair is synced.
	if err := pair.Sync(block); err != nil {
		return nil, err
	}
	quote := m.priceClose(pair, pos, closePrice, block)

	if err := pair.OI.Remove(pos.Side(), pos.Size()); err != nil {
		return nil, err
	}
	if _, err := m.book.Remove(key); err != nil {
		return nil, err
	}
	return quote, nil
}

// QuoteClose prices a close at block without mutating the market. A zero
// block quotes at the pair's last synced block.
func (m *Market) QuoteClose(key PositionKey, closePrice *big.Int, block uint64) (*CloseQuote, error) {
	pair, err := m.pair(key.PairIndex)
	if err != nil {
		return nil, err
	}
	pos, ok := m.book.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPosition, key)
	}

	view := pair.Clone()
	if block == 0 {
		block = view.Borrowing.CurrentBlock
	}
	if err := view.Sync(block); err != nil {
		return nil, err
	}
	return m.priceClose(view, pos, closePrice, block), nil
}

func (m *Market) priceClose(pair *PairState, pos *Position, closePrice *big.Int, block uint64) *CloseQuote {
	side := pos.Side()

	borrowDelta := new(big.Int).Sub(pair.Borrowing.Side(side), pos.InitialPairAccFee)
	borrowingFee := fpmath.TradingFee(borrowDelta, pos.Collateral, pos.Leverage)

	fundingFee := fpmath.TradeFundingFee(
		pair.Funding.Side(side), pos.Funding,
		pos.Collateral, pos.Leverage,
		m.cfg.FundingRounding,
	)

	profitP := m.cfg.Limits.Clamp(fpmath.RawProfitPercent(closePrice, pos.OpenPrice, pos.Leverage, pos.Buy))
	gross := fpmath.AmountForProfitPercent(pos.Collateral, profitP)

	return &CloseQuote{
		Position:     pos,
		ClosePrice:   new(big.Int).Set(closePrice),
		Block:        block,
		ProfitP:      profitP,
		Gross:        gross,
		BorrowingFee: borrowingFee,
		FundingFee:   fundingFee,
		Net:          fpmath.NetCloseAmount(gross, borrowingFee, fundingFee),
	}
}

// PendingPair returns a copy of the pair synced to block, leaving the
// market untouched. A zero block returns the last synced state.
func (m *Market) PendingPair(pairIndex uint64, block uint64) (*PairState, error) {
	pair, err := m.pair(pairIndex)
	if err != nil {
		return nil, err
	}
	view := pair.Clone()
	if block == 0 {
		return view, nil
	}
	if err := view.Sync(block); err != nil {
		return nil, err
	}
	return view, nil
}

func (m *Market) OpenInterest(pairIndex uint64) (OpenInterest, error) {
	pair, err := m.pair(pairIndex)
	if err != nil {
		return OpenInterest{}, err
	}
	return pair.OI.Clone(), nil
}

func (m *Market) Position(key PositionKey) (*Position, bool) {
	return m.book.Get(key)
}

func (m *Market) PositionsByPair(pairIndex uint64) []*Position {
	return m.book.ByPair(pairIndex)
}

func (m *Market) PositionCount() int {
	return m.book.Len()
}

func (m *Market) Pairs() []uint64 {
	return m.params.Pairs()
}

// OpenPnl sums gross close amount minus collateral over every open position
// at its pair's latest price. Positions on pairs without a price are skipped
// and counted in the second return value.
func (m *Market) OpenPnl() (*big.Int, int) {
	total := new(big.Int)
	skipped := 0
	for _, pairIndex := range m.params.Pairs() {
		latest, ok := m.prices.Latest(pairIndex)
		for _, pos := range m.book.ByPair(pairIndex) {
			if !ok {
				skipped++
				continue
			}
			gross := m.cfg.Limits.CloseAmount(latest.Price, pos.OpenPrice, pos.Leverage, pos.Buy, pos.Collateral)
			total.Add(total, gross.Sub(gross, pos.Collateral))
		}
	}
	return total, skipped
}

func (m *Market) pair(pairIndex uint64) (*PairState, error) {
	pair, ok := m.pairs[pairIndex]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPair, pairIndex)
	}
	return pair, nil
}
