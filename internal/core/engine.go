package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"PerpParity/internal/event"
	"PerpParity/internal/observability"
	"PerpParity/internal/state"
	"PerpParity/internal/vault"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CoreConfig configures the models the core replays events into.
type CoreConfig struct {
	Market state.MarketConfig
	Epoch  vault.EpochConfig

	// EpochStart is the vault's first epoch start. Zero means the block time
	// of the first vault event.
	EpochStart time.Time

	// Tolerance is the largest |observed - expected| still counted as a match (wei).
	Tolerance *big.Int

	LRUCapacity int
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Market:      state.DefaultMarketConfig(),
		Epoch:       vault.DefaultEpochConfig(),
		Tolerance:   new(big.Int),
		LRUCapacity: 1_000_000,
	}
}

// CoreOutput is what the core emits for every applied event.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Results  []CheckResult
}

// ParityCore replays observed chain events into the fee, PnL and epoch models
// and compares the model against the values the chain reported.
//
// Events are applied one at a time; readers (HTTP quotes) take a read lock
// on the model state.
type ParityCore struct {
	procMu sync.Mutex
	mu     sync.RWMutex

	cfg      CoreConfig
	sequence int64
	hasher   *StateHasher
	market   *state.Market
	epochs   *vault.Model
	epoch    *vault.EpochState // nil until the first vault event

	// chainHead is the highest block applied from the chain stream; vaultBlock
	// the last block that changed the observable epoch fields.
	chainHead  uint64
	vaultBlock uint64

	idempotency *IdempotencyChecker
	blockOrder  *BlockOrderValidator
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan chan<- CoreOutput
	alertChan   chan<- CoreOutput
}

func NewParityCore(
	cfg CoreConfig,
	persistChan, alertChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*ParityCore, error) {
	epochs, err := vault.NewModel(cfg.Epoch)
	if err != nil {
		return nil, fmt.Errorf("epoch config: %w", err)
	}
	if cfg.Tolerance == nil {
		cfg.Tolerance = new(big.Int)
	}
	if cfg.Tolerance.Sign() < 0 {
		return nil, fmt.Errorf("tolerance must be >= 0, got %s", cfg.Tolerance)
	}

	c := &ParityCore{
		cfg:         cfg,
		hasher:      NewStateHasher(),
		market:      state.NewMarket(cfg.Market),
		epochs:      epochs,
		idempotency: NewIdempotencyChecker(cfg.LRUCapacity, dbChecker, metrics),
		blockOrder:  NewBlockOrderValidator(),
		metrics:     metrics,
		logger:      logger,
		persistChan: persistChan,
		alertChan:   alertChan,
	}
	if !cfg.EpochStart.IsZero() {
		c.epoch = vault.NewEpochState(cfg.EpochStart)
	}
	return c, nil
}

// ProcessEvent applies one event and emits its output. Duplicates return nil
// without output.
func (c *ParityCore) ProcessEvent(evt event.Event) error {
	_, err := c.process(evt, true)
	return err
}

// Replay applies an event read back from the event log without emitting it,
// returning the envelope so the caller can compare state hashes.
func (c *ParityCore) Replay(evt event.Event) (*event.EventEnvelope, error) {
	out, err := c.process(evt, false)
	if err != nil || out == nil {
		return nil, err
	}
	return out.Envelope, nil
}

func (c *ParityCore) process(evt event.Event, emit bool) (*CoreOutput, error) {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	block := uint64(evt.SourceSequence())

	// Step 1: dedup
	var isDuplicate bool
	if emit {
		isDuplicate = c.idempotency.IsDuplicate(eventType, idempotencyKey)
	} else {
		isDuplicate = c.idempotency.SeenRecently(eventType, idempotencyKey)
	}

	// Step 2: block ordering per partition
	partition := partitionFor(evt)
	if err := c.blockOrder.Check(partition, block, isDuplicate); err != nil {
		c.reject(eventType, "out_of_order")
		if c.metrics != nil {
			c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return nil, fmt.Errorf("block order validation failed: %w", err)
	}
	if isDuplicate {
		c.reject(eventType, "duplicate")
		return nil, nil
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", eventType, err)
	}

	// Step 3: apply to the models and compare
	c.mu.Lock()
	results, err := c.dispatch(evt)
	if err != nil {
		c.mu.Unlock()
		c.reject(eventType, "invalid")
		return nil, fmt.Errorf("dispatch %s failed: %w", eventType, err)
	}

	if !isObservation(evt) && block > c.chainHead {
		c.chainHead = block
	}

	// Step 4: hash chain
	hashStart := time.Now()
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, c.stateDigest(evt))
	hashDur := time.Since(hashStart)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		PairIndex:      evt.PairIndex(),
		BlockNumber:    block,
		Timestamp:      evt.Timestamp(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	for i := range results {
		results[i].Sequence = c.sequence
	}
	c.sequence++
	positions := c.market.PositionCount()
	c.mu.Unlock()

	c.blockOrder.Advance(partition, block)
	output := CoreOutput{Envelope: envelope, Results: results}

	c.logMismatches(output)

	// Step 5: emit
	if emit {
		c.emit(output)
	}

	// Step 6: mark processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreStateHashDur.Observe(hashDur.Seconds())
		c.metrics.CoreSequence.Set(float64(envelope.Sequence))
		c.metrics.OpenPositions.Set(float64(positions))
		for _, r := range results {
			outcome := "match"
			if !r.Matched {
				outcome = "mismatch"
				c.metrics.ParityMismatchBlock.WithLabelValues(string(r.Kind)).Set(float64(r.BlockNumber))
			}
			c.metrics.ParityChecks.WithLabelValues(string(r.Kind), r.Field, outcome).Inc()
		}
	}

	return &output, nil
}

// emit sends to the persist channel (blocking: the core stalls until the
// writer drains) and, when something mismatched, to the alert channel
// (non-blocking: alerts are also in parity.results).
func (c *ParityCore) emit(output CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}

	if c.alertChan == nil || len(Mismatches(output.Results)) == 0 {
		return
	}
	select {
	case c.alertChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.AlertDrops.Inc()
		}
		c.logger.Warn().Int64("sequence", output.Envelope.Sequence).Msg("alert channel full, alert dropped")
	}
}

func (c *ParityCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *ParityCore) logMismatches(output CoreOutput) {
	for _, r := range Mismatches(output.Results) {
		c.logger.Warn().
			Str("kind", string(r.Kind)).
			Str("field", r.Field).
			Str("subject", r.Subject).
			Uint64("block", r.BlockNumber).
			Str("expected", r.Expected.String()).
			Str("observed", r.Observed.String()).
			Str("diff", r.Diff().String()).
			Str("idempotency_key", r.IdempotencyKey).
			Msg("parity mismatch")
	}
}

func isObservation(evt event.Event) bool {
	switch evt.(type) {
	case *event.EpochObserved, *event.OpenInterestObserved:
		return true
	}
	return false
}

// settled reports whether every chain event up to block has been applied.
// Logs of the head block may still be arriving, so block must be below it.
func (c *ParityCore) settled(block uint64) bool {
	return block < c.chainHead
}

// partitionFor groups events whose blocks must not go backwards. Getter
// observations lag the head, so they get their own partitions per source.
func partitionFor(evt event.Event) string {
	prefix := "chain"
	switch e := evt.(type) {
	case *event.EpochObserved:
		prefix = e.Source
	case *event.OpenInterestObserved:
		prefix = e.Source
	}
	if p := evt.PairIndex(); p != nil {
		return fmt.Sprintf("%s:pair:%d", prefix, *p)
	}
	return prefix + ":vault"
}

func (c *ParityCore) dispatch(evt event.Event) ([]CheckResult, error) {
	switch e := evt.(type) {
	case *event.PairParamsUpdated:
		return nil, c.handlePairParamsUpdated(e)
	case *event.FundingRateUpdated:
		return nil, c.handleFundingRateUpdated(e)
	case *event.PriceFed:
		return nil, c.handlePriceFed(e)
	case *event.TradeOpened:
		return nil, c.handleTradeOpened(e)
	case *event.TradeClosed:
		return c.handleTradeClosed(e)
	case *event.EpochPolled:
		return nil, c.handleEpochPolled(e)
	case *event.OpenPnlAnswered:
		return nil, c.handleOpenPnlAnswered(e)
	case *event.EpochObserved:
		return c.handleEpochObserved(e), nil
	case *event.OpenInterestObserved:
		return c.handleOpenInterestObserved(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *ParityCore) handlePairParamsUpdated(e *event.PairParamsUpdated) error {
	return c.market.UpdatePairParams(&state.PairFeeParams{
		PairIndex:   e.Pair,
		GroupIndex:  e.GroupIndex,
		FeePerBlock: e.FeePerBlock,
		FeeExponent: e.FeeExponent,
		MaxOi:       e.MaxOi,
	}, e.BlockNumber)
}

func (c *ParityCore) handleFundingRateUpdated(e *event.FundingRateUpdated) error {
	return c.market.UpdateFundingRate(e.Pair, e.FundingFeePerBlockP, e.BlockNumber)
}

func (c *ParityCore) handlePriceFed(e *event.PriceFed) error {
	recorded := c.market.RecordPrice(e.Pair, state.PricePoint{
		Price:     e.Price,
		Block:     e.BlockNumber,
		Timestamp: e.BlockTime.Unix(),
	})
	if !recorded {
		c.logger.Debug().Uint64("pair", e.Pair).Uint64("block", e.BlockNumber).Msg("stale price ignored")
	}
	return nil
}

func (c *ParityCore) handleTradeOpened(e *event.TradeOpened) error {
	pos, err := c.market.OpenTrade(state.OpenTradeRequest{
		Trader:     e.Trader,
		PairIndex:  e.Pair,
		Index:      e.Index,
		Collateral: e.Collateral,
		Leverage:   e.Leverage,
		Buy:        e.Buy,
		OpenPrice:  e.OpenPrice,
		Block:      e.BlockNumber,
		Timestamp:  e.BlockTime.Unix(),
	})
	if err != nil {
		return err
	}
	c.logger.Debug().
		Str("position", pos.Key().String()).
		Str("acc_fee_entry", pos.InitialPairAccFee.String()).
		Str("funding_entry", pos.Funding.String()).
		Msg("trade opened")
	c.observeOpenInterest(e.Pair)
	return nil
}

func (c *ParityCore) handleTradeClosed(e *event.TradeClosed) ([]CheckResult, error) {
	key := state.PositionKey{Trader: e.Trader, PairIndex: e.Pair, Index: e.Index}
	quote, err := c.market.CloseTrade(key, e.ClosePrice, e.BlockNumber)
	if err != nil {
		return nil, err
	}
	c.observeOpenInterest(e.Pair)

	b := c.newCheck(CheckTradeClose, e, key.String())
	b.compare("amount_sent_to_trader", quote.Net, e.AmountSentToTrader)
	if e.ObservedBorrowingFee != nil {
		b.compare("borrowing_fee", quote.BorrowingFee, e.ObservedBorrowingFee)
	}
	if e.ObservedFundingFee != nil {
		b.compare("funding_fee", quote.FundingFee, e.ObservedFundingFee)
	}
	return b.results, nil
}

func (c *ParityCore) ensureEpoch(blockTime time.Time) *vault.EpochState {
	if c.epoch == nil {
		c.epoch = vault.NewEpochState(blockTime)
		c.logger.Info().Time("epoch_start", blockTime).Msg("epoch state seeded")
	}
	return c.epoch
}

func (c *ParityCore) handleEpochPolled(e *event.EpochPolled) error {
	s := c.ensureEpoch(e.BlockTime)
	out := c.epochs.TryAdvance(s, e.BlockTime)

	if out.Kind != vault.OutcomeNoop {
		c.vaultBlock = e.BlockNumber
	}

	switch out.Kind {
	case vault.OutcomeRequested:
		c.logger.Info().
			Uint64("request_id", out.RequestID).
			Interface("job_ids", out.JobIDs).
			Uint64("epoch", out.Epoch).
			Msg("open-pnl request issued")
		if c.metrics != nil {
			c.metrics.EpochRequestsIssued.Inc()
		}
	case vault.OutcomeRolled:
		c.logger.Info().
			Uint64("epoch", out.Epoch).
			Str("increment", out.Increment.String()).
			Str("positive_open_pnl", s.CurrentEpochPositiveOpenPnl.String()).
			Msg("epoch rolled")
		if c.metrics != nil {
			c.metrics.EpochRollovers.Inc()
			c.metrics.EpochCurrent.Set(float64(out.Epoch))
		}
	}
	return nil
}

func (c *ParityCore) handleOpenPnlAnswered(e *event.OpenPnlAnswered) error {
	s := c.ensureEpoch(e.BlockTime)
	out, err := c.epochs.Fulfill(s, e.JobID, e.Answer)
	if err != nil {
		c.recordAnswer("unknown_job")
		return err
	}

	switch {
	case out.Expired:
		c.recordAnswer("expired")
		c.logger.Debug().Uint64("job_id", e.JobID).Uint64("epoch", s.CurrentEpoch).Msg("answer for a dropped round, ignored")
	case !out.Accepted:
		c.recordAnswer("late")
	case out.Median != nil:
		c.vaultBlock = e.BlockNumber
		c.recordAnswer("median")
		c.logger.Info().
			Uint64("request_id", out.RequestID).
			Str("median", out.Median.String()).
			Msg("open-pnl request completed")
	default:
		c.recordAnswer("accepted")
	}
	return nil
}

func (c *ParityCore) recordAnswer(outcome string) {
	if c.metrics != nil {
		c.metrics.OracleAnswers.WithLabelValues(outcome).Inc()
	}
}

func (c *ParityCore) handleEpochObserved(e *event.EpochObserved) []CheckResult {
	if c.epoch == nil {
		c.logger.Debug().Uint64("block", e.BlockNumber).Msg("epoch observation before any vault event, skipped")
		return nil
	}
	if e.BlockNumber < c.vaultBlock {
		c.logger.Debug().
			Uint64("vault_block", c.vaultBlock).
			Uint64("observed_block", e.BlockNumber).
			Msg("epoch observation behind model, skipped")
		return nil
	}
	if !c.settled(e.BlockNumber) {
		c.logger.Debug().
			Uint64("chain_head", c.chainHead).
			Uint64("observed_block", e.BlockNumber).
			Msg("epoch observation ahead of applied chain events, skipped")
		return nil
	}
	s := c.epoch

	b := c.newCheck(CheckEpoch, e, "vault")
	b.compare("current_epoch", new(big.Int).SetUint64(s.CurrentEpoch), new(big.Int).SetUint64(e.CurrentEpoch))
	b.compare("current_epoch_positive_open_pnl", s.CurrentEpochPositiveOpenPnl, bigOrZero(e.CurrentEpochPositiveOpenPnl))
	b.compare("next_epoch_values_request_count",
		big.NewInt(int64(s.NextEpochValuesRequestCount)),
		new(big.Int).SetUint64(e.NextEpochValuesRequestCount))
	b.compare("next_epoch_values.len", big.NewInt(int64(len(s.NextEpochValues))), big.NewInt(int64(len(e.NextEpochValues))))
	for i := 0; i < len(s.NextEpochValues) && i < len(e.NextEpochValues); i++ {
		b.compare("next_epoch_values["+strconv.Itoa(i)+"]", s.NextEpochValues[i], bigOrZero(e.NextEpochValues[i]))
	}
	return b.results
}

func (c *ParityCore) handleOpenInterestObserved(e *event.OpenInterestObserved) ([]CheckResult, error) {
	pair, err := c.market.PendingPair(e.Pair, 0)
	if err != nil {
		return nil, err
	}
	if pair.Borrowing.CurrentBlock > e.BlockNumber {
		// The model already applied later trades; the getter value is stale.
		c.logger.Debug().
			Uint64("pair", e.Pair).
			Uint64("model_block", pair.Borrowing.CurrentBlock).
			Uint64("observed_block", e.BlockNumber).
			Msg("open interest observation behind model, skipped")
		return nil, nil
	}
	if !c.settled(e.BlockNumber) {
		c.logger.Debug().
			Uint64("pair", e.Pair).
			Uint64("chain_head", c.chainHead).
			Uint64("observed_block", e.BlockNumber).
			Msg("open interest observation ahead of applied chain events, skipped")
		return nil, nil
	}

	b := c.newCheck(CheckOpenInterest, e, fmt.Sprintf("pair:%d", e.Pair))
	b.compare("long", pair.OI.Long, bigOrZero(e.Long))
	b.compare("short", pair.OI.Short, bigOrZero(e.Short))
	return b.results, nil
}

func (c *ParityCore) newCheck(kind CheckKind, evt event.Event, subject string) *checkBuilder {
	return &checkBuilder{
		kind:           kind,
		pairIndex:      evt.PairIndex(),
		subject:        subject,
		block:          uint64(evt.SourceSequence()),
		idempotencyKey: evt.IdempotencyKey(),
		timestamp:      evt.Timestamp(),
		tolerance:      c.cfg.Tolerance,
	}
}

func (c *ParityCore) observeOpenInterest(pairIndex uint64) {
	if c.metrics == nil {
		return
	}
	oi, err := c.market.OpenInterest(pairIndex)
	if err != nil {
		return
	}
	label := strconv.FormatUint(pairIndex, 10)
	c.metrics.OpenInterest.WithLabelValues(label, "long").Set(decimal.NewFromBigInt(oi.Long, -18).InexactFloat64())
	c.metrics.OpenInterest.WithLabelValues(label, "short").Set(decimal.NewFromBigInt(oi.Short, -18).InexactFloat64())
}

// stateDigest encodes the state the event touched: the pair's accumulators,
// open interest and latest price for pair events, the epoch state otherwise.
func (c *ParityCore) stateDigest(evt event.Event) []byte {
	d := digest(nil).str(evt.EventType().String()).str(evt.IdempotencyKey())

	if p := evt.PairIndex(); p != nil {
		d = d.uint64(*p)
		if pair, err := c.market.PendingPair(*p, 0); err == nil {
			d = d.bigInt(pair.OI.Long).bigInt(pair.OI.Short).
				bigInt(pair.Borrowing.AccFeeLong).bigInt(pair.Borrowing.AccFeeShort).
				uint64(pair.Borrowing.CurrentBlock).
				bigInt(pair.Funding.ValueLong).bigInt(pair.Funding.ValueShort).
				uint64(pair.Funding.StoredBlockNumber)
		}
		if latest, ok := c.market.Prices().Latest(*p); ok {
			d = d.bigInt(latest.Price).uint64(latest.Block)
		}
		return d.uint64(uint64(c.market.PositionCount()))
	}

	if s := c.epoch; s != nil {
		d = d.uint64(s.CurrentEpoch).
			bigInt(s.CurrentEpochPositiveOpenPnl).
			uint64(uint64(s.NextEpochValuesRequestCount)).
			uint64(s.LastJobID)
		for _, v := range s.NextEpochValues {
			d = d.bigInt(v)
		}
	}
	return d
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// --- Read view ---

// GetSequence returns the next sequence to assign.
func (c *ParityCore) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// GetStateHash returns the hash chain tip.
func (c *ParityCore) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}

func (c *ParityCore) Config() CoreConfig {
	return c.cfg
}

// QuoteClose prices closing a position at price and block without mutating
// the model. A zero block quotes at the pair's last synced block.
func (c *ParityCore) QuoteClose(key state.PositionKey, price *big.Int, block uint64) (*state.CloseQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.QuoteClose(key, price, block)
}

// PendingPair returns a copy of the pair's state synced to block.
func (c *ParityCore) PendingPair(pairIndex uint64, block uint64) (*state.PairState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.PendingPair(pairIndex, block)
}

func (c *ParityCore) Position(key state.PositionKey) (*state.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.Position(key)
}

func (c *ParityCore) PositionsByPair(pairIndex uint64) []*state.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.PositionsByPair(pairIndex)
}

func (c *ParityCore) Pairs() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.Pairs()
}

func (c *ParityCore) LatestPrice(pairIndex uint64) (state.PricePoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.Prices().Latest(pairIndex)
}

// SuggestedFundingRate derives a per-block funding rate from the pair's
// price TWAP over window.
func (c *ParityCore) SuggestedFundingRate(pairIndex uint64, window time.Duration) (*big.Int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.Prices().SuggestedFundingRate(pairIndex, window)
}

// OpenPnl is the model's open PnL over all positions at latest prices, and
// how many positions had no price.
func (c *ParityCore) OpenPnl() (*big.Int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market.OpenPnl()
}

// Epoch returns a copy of the epoch state and its phase. ok is false until
// the first vault event.
func (c *ParityCore) Epoch() (s *vault.EpochState, phase vault.Phase, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.epoch == nil {
		return nil, 0, false
	}
	return c.epoch.Clone(), c.epoch.Phase(c.cfg.Epoch), true
}
