package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"PerpParity/internal/event"
	"PerpParity/internal/observability"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

// PollerSource tags observations produced by the poller.
const PollerSource = "poller"

// HeadReader is the subset of ethclient.Client used to pick the poll block.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// PollerConfig controls cadence and depth.
type PollerConfig struct {
	Interval      time.Duration
	Confirmations uint64
}

// Poller reads the chain getters at head - confirmations and emits
// EpochObserved and OpenInterestObserved events for the core.
type Poller struct {
	reader  *Reader
	heads   HeadReader
	pairs   func() []uint64
	cfg     PollerConfig
	out     chan<- event.Event
	metrics *observability.Metrics
	logger  zerolog.Logger

	lastBlock uint64
}

// NewPoller builds a poller. pairs is called on every poll so newly listed
// pairs are picked up.
func NewPoller(
	reader *Reader,
	heads HeadReader,
	pairs func() []uint64,
	cfg PollerConfig,
	out chan<- event.Event,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Second
	}
	return &Poller{
		reader:  reader,
		heads:   heads,
		pairs:   pairs,
		cfg:     cfg,
		out:     out,
		metrics: metrics,
		logger:  logger,
	}
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on
// the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("chain poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce reads one confirmed block. A block already polled is skipped.
func (p *Poller) PollOnce(ctx context.Context) error {
	start := time.Now()
	result := "ok"
	defer func() {
		if p.metrics != nil {
			p.metrics.ChainPolls.WithLabelValues(result).Inc()
			p.metrics.ChainPollDuration.Observe(time.Since(start).Seconds())
		}
	}()

	head, err := p.heads.BlockNumber(ctx)
	if err != nil {
		result = "error"
		return fmt.Errorf("block number: %w", err)
	}
	if p.metrics != nil {
		p.metrics.ChainHeadBlock.Set(float64(head))
	}
	if head < p.cfg.Confirmations {
		result = "skipped"
		return nil
	}
	block := head - p.cfg.Confirmations
	if block <= p.lastBlock {
		result = "skipped"
		return nil
	}

	header, err := p.heads.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		result = "error"
		return fmt.Errorf("header %d: %w", block, err)
	}
	obs := event.Observation{
		Source:      PollerSource,
		BlockNumber: block,
		BlockTime:   time.Unix(int64(header.Time), 0).UTC(),
	}

	events, err := p.observe(ctx, obs)
	if err != nil {
		result = "error"
		return err
	}
	for _, evt := range events {
		select {
		case p.out <- evt:
		case <-ctx.Done():
			result = "cancelled"
			return ctx.Err()
		}
	}

	p.lastBlock = block
	p.logger.Debug().Uint64("block", block).Int("events", len(events)).Msg("chain polled")
	return nil
}

func (p *Poller) observe(ctx context.Context, obs event.Observation) ([]event.Event, error) {
	snap, err := p.reader.Epoch(ctx, obs.BlockNumber)
	if err != nil {
		return nil, err
	}
	events := []event.Event{&event.EpochObserved{
		Observation:                 obs,
		CurrentEpoch:                snap.CurrentEpoch,
		CurrentEpochPositiveOpenPnl: snap.CurrentEpochPositiveOpenPnl,
		NextEpochValuesRequestCount: snap.NextEpochValuesRequestCount,
		NextEpochValues:             snap.NextEpochValues,
	}}

	for _, pair := range p.pairs() {
		long, short, err := p.reader.OpenInterest(ctx, pair, obs.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("open interest pair %d: %w", pair, err)
		}
		events = append(events, &event.OpenInterestObserved{
			Observation: obs,
			Pair:        pair,
			Long:        long,
			Short:       short,
		})
	}
	return events, nil
}
