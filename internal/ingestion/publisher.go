package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const alertStream = "PARITY_ALERTS"

// Publisher is the subset of jetstream.JetStream the alert publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// AlertPublisher publishes parity mismatches for downstream consumers.
// Subjects follow the pattern: parity.alerts.{check}[.{pair}]
type AlertPublisher struct {
	js        Publisher
	inputChan <-chan Alert
	logger    zerolog.Logger
}

// Alert is a mismatch between the model and what the chain reported.
type Alert struct {
	CheckID        string    `json:"check_id"`
	Check          string    `json:"check"`
	Sequence       int64     `json:"sequence"`
	IdempotencyKey string    `json:"idempotency_key"`
	PairIndex      *uint64   `json:"pair_index,omitempty"`
	BlockNumber    uint64    `json:"block_number"`
	Expected       string    `json:"expected"`
	Observed       string    `json:"observed"`
	Diff           string    `json:"diff"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewAlertPublisher(js Publisher, inputChan <-chan Alert, logger zerolog.Logger) *AlertPublisher {
	return &AlertPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the publish loop.
func (ap *AlertPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case alert, ok := <-ap.inputChan:
			if !ok {
				return nil
			}

			if err := ap.publish(ctx, alert); err != nil {
				// Non-fatal: mismatches are also persisted in parity.results
				ap.logger.Warn().Err(err).
					Str("check_id", alert.CheckID).
					Msg("alert publish failed")
			}
		}
	}
}

func (ap *AlertPublisher) publish(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	_, err = ap.js.Publish(ctx, AlertSubject(alert), data)
	return err
}

// AlertSubject returns parity.alerts.{check}[.{pair}].
func AlertSubject(alert Alert) string {
	subject := fmt.Sprintf("parity.alerts.%s", alert.Check)
	if alert.PairIndex != nil {
		subject = fmt.Sprintf("%s.%d", subject, *alert.PairIndex)
	}
	return subject
}

// EnsureAlertStream creates the alerts stream.
func EnsureAlertStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      alertStream,
		Subjects:  []string{"parity.alerts.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create alert stream: %w", err)
	}
	logger.Info().Str("stream", alertStream).Msg("ensured alert stream")
	return nil
}
