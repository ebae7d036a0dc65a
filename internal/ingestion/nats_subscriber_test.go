package ingestion_test

import (
	"context"
	"testing"
	"time"

	"PerpParity/internal/ingestion"
	"PerpParity/internal/testutil"

	"github.com/rs/zerolog"
)

func TestNATSSubscriber_DeliversKindsInStreamOrder(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test NATS not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = js.DeleteStream(ctx, "PARITY_CHAIN")
	if err := ingestion.EnsureStreams(ctx, js, zerolog.Nop()); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}

	// Indexer order for one pair: params, open, then a later price.
	published := []string{
		"parity.chain.pair_params.0",
		"parity.chain.trade_opened.0",
		"parity.chain.price.0",
		"parity.chain.trade_closed.0",
		"parity.chain.unknown.0",
		"parity.chain.epoch_polled.vault",
	}
	for _, subj := range published {
		if _, err := js.Publish(ctx, subj, []byte(`{}`)); err != nil {
			t.Fatalf("publish %s: %v", subj, err)
		}
	}

	ch := make(chan ingestion.RawEvent, 1)
	sub := ingestion.NewNATSSubscriber(js, ch, zerolog.Nop())
	if err := sub.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	want := []string{"PairParamsUpdated", "TradeOpened", "PriceFed", "TradeClosed", "EpochPolled"}
	for i, w := range want {
		select {
		case raw := <-ch:
			if raw.EventType != w {
				t.Fatalf("event %d = %s (%s), want %s", i, raw.EventType, raw.Subject, w)
			}
			raw.AckFunc()
		case <-ctx.Done():
			t.Fatalf("timed out waiting for event %d (%s)", i, w)
		}
	}
}
