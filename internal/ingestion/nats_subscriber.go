package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	chainStream   = "PARITY_CHAIN"
	chainSubjects = "parity.chain.>"
	chainConsumer = "parity-chain"
)

// NATSSubscriber consumes the chain indexer's JetStream stream and feeds raw
// events to the shell, which parses them for the core.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumer  jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is the untyped event from NATS, ready for the shell to convert
// into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after successful processing
	NakFunc   func() // NAK on failure (redelivered)
}

// SubjectConfig maps a subject prefix to an event type.
type SubjectConfig struct {
	Prefix    string
	EventType string
}

// DefaultSubjects returns one subject prefix per observed event kind.
func DefaultSubjects() []SubjectConfig {
	kinds := []struct{ kind, eventType string }{
		{"pair_params", "PairParamsUpdated"},
		{"funding_rate", "FundingRateUpdated"},
		{"price", "PriceFed"},
		{"trade_opened", "TradeOpened"},
		{"trade_closed", "TradeClosed"},
		{"epoch_polled", "EpochPolled"},
		{"open_pnl_answer", "OpenPnlAnswered"},
		{"epoch_observed", "EpochObserved"},
		{"oi_observed", "OpenInterestObserved"},
	}

	out := make([]SubjectConfig, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, SubjectConfig{
			Prefix:    "parity.chain." + k.kind + ".",
			EventType: k.eventType,
		})
	}
	return out
}

// ResolveEventType finds the event type for a subject by matching the
// longest prefix. It returns "" when no prefix matches.
func ResolveEventType(subject string, subjects []SubjectConfig) string {
	bestMatch := ""
	bestType := ""
	for _, s := range subjects {
		if strings.HasPrefix(subject, s.Prefix) && len(s.Prefix) > len(bestMatch) {
			bestMatch = s.Prefix
			bestType = s.EventType
		}
	}
	return bestType
}

// ChainConsumerConfig is the single durable consumer over the whole chain
// stream. Every kind shares it so the core sees events in stream order;
// MaxAckPending=1 keeps a redelivery from overtaking later messages.
func ChainConsumerConfig() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       chainConsumer,
		FilterSubject: chainSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe starts the chain consumer. Each message's event type is resolved
// from its subject; messages on unknown subjects are acked and dropped.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	cfg := ChainConsumerConfig()
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, chainStream, cfg)
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.Durable, err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		eventType := ResolveEventType(msg.Subject(), subjects)
		if eventType == "" {
			ns.logger.Warn().Str("subject", msg.Subject()).Msg("unknown NATS subject")
			_ = msg.Ack()
			return
		}

		raw := RawEvent{
			Subject:   msg.Subject(),
			EventType: eventType,
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { _ = msg.Ack() },
			NakFunc:   func() { _ = msg.Nak() },
		}

		select {
		case ns.eventChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.Durable, err)
	}

	ns.consumer = consumerContext
	ns.logger.Info().
		Str("subject", cfg.FilterSubject).
		Str("consumer", cfg.Durable).
		Int("kinds", len(subjects)).
		Msg("subscribed")
	return nil
}

// EnsureStreams creates the chain stream if it doesn't exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	cfg := jetstream.StreamConfig{
		Name:      chainStream,
		Subjects:  []string{chainSubjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	return nil
}

// Stop stops the consumer.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("perpparity"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
