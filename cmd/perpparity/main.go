package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PerpParity/internal/chain"
	"PerpParity/internal/core"
	"PerpParity/internal/event"
	"PerpParity/internal/ingestion"
	"PerpParity/internal/observability"
	"PerpParity/internal/persistence"
	"PerpParity/internal/projection"
	"PerpParity/internal/query"
	"PerpParity/internal/server"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("perpparity")
	logger.Info().Msg("PerpParity starting")

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Workers outlive ctx so they can drain after ingestion stops.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	applied, err := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate")).Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// The persist channel blocks (backpressure), the alert channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	alertCoreChan := make(chan core.CoreOutput, cfg.AlertChanSize)

	// Bridge channels for the workers (avoids import cycles)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	alertChan := make(chan ingestion.Alert, cfg.AlertChanSize)
	projectionChan := make(chan projection.ProjectionOutput, cfg.PersistChanSize)

	// --- Parity core ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	parityCore, err := core.NewParityCore(
		cfg.Core,
		persistCoreChan,
		alertCoreChan,
		dbChecker,
		metrics,
		observability.NewLogger("core"),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("create core")
	}

	// --- Event replay ---
	// Rebuilds the model from parity.events and checks every state hash.
	replayStart := time.Now()
	replayed, err := replayEventLog(ctx, persistence.NewEventLogReader(db), parityCore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("event replay failed")
	}
	metrics.ReplayEventsTotal.Add(float64(replayed))
	metrics.ReplayDuration.Set(time.Since(replayStart).Seconds())
	logger.Info().
		Int64("events", replayed).
		Int64("next_sequence", parityCore.GetSequence()).
		Dur("took", time.Since(replayStart)).
		Msg("event log replayed")

	// The rollup is derived from parity.results; recompute it before the
	// projection worker resumes from the new watermark.
	if err := projection.Rebuild(ctx, db, observability.NewLogger("projection")); err != nil {
		logger.Fatal().Err(err).Msg("rebuild rollup")
	}

	// --- NATS ---
	natsLogger := observability.NewLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	logger.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}
	if err := ingestion.EnsureAlertStream(ctx, js, natsLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure alert stream")
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.EventChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, natsLogger)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	alertPublisher := ingestion.NewAlertPublisher(js, alertChan, natsLogger)

	// Admin injections and poller observations arrive already typed.
	typedEventChan := make(chan event.Event, cfg.EventChanSize)
	ingestService := ingestion.NewAdminIngestService(typedEventChan)

	// --- HTTP API + gRPC health ---
	srv, err := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.Deps{
		Model:   parityCore,
		Parity:  query.NewQueryService(db),
		Ingest:  ingestService,
		Health:  healthChecker,
		Metrics: metrics,
		Logger:  observability.NewLogger("http"),
	}, observability.NewLogger("server"))
	if err != nil {
		logger.Fatal().Err(err).Msg("build server")
	}

	// --- Chain poller ---
	var poller *chain.Poller
	if cfg.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("dial rpc")
		}
		defer client.Close()

		poller = chain.NewPoller(
			chain.NewReader(client, cfg.Contracts),
			client,
			parityCore.Pairs,
			chain.PollerConfig{Interval: cfg.PollInterval, Confirmations: cfg.PollConfirmations},
			typedEventChan,
			metrics,
			observability.NewLogger("poller"),
		)
		healthChecker.Register("rpc", func(ctx context.Context) error {
			_, err := client.BlockNumber(ctx)
			return err
		})
	} else {
		logger.Warn().Msg("PARITY_RPC_URL not set, chain poller disabled")
	}

	healthChecker.Register("postgres", db.PingContext)
	healthChecker.Register("nats", func(context.Context) error {
		if st := nc.Status(); st != nats.CONNECTED {
			return fmt.Errorf("nats %s", st)
		}
		return nil
	})

	// --- Start goroutines ---
	errChan := make(chan error, 10)

	// 1. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(
		db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, observability.NewLogger("persistence"),
	)
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// 2. Rollup projection
	projectionWorker := projection.NewProjectionWorker(db, projectionChan, observability.NewLogger("projection"))
	go func() {
		if err := projectionWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()

	// 3. Alert publisher
	go func() {
		if err := alertPublisher.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("alert publisher: %w", err)
		}
	}()

	// 4. Core output bridge
	go bridgeCoreOutputs(persistCoreChan, alertCoreChan, persistWorkerChan, projectionChan, alertChan, metrics, logger)

	// 5. NATS + typed events -> core
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		runIngestionLoop(ctx, rawEventChan, typedEventChan, parityCore, metrics, observability.NewLogger("ingestion"))
	}()

	// 6. Chain poller
	if poller != nil {
		go func() {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("chain poller: %w", err)
			}
		}()
	}

	// 7. gRPC health/reflection
	go func() {
		if err := srv.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc: %w", err)
		}
	}()

	// 8. HTTP API
	go func() {
		if err := srv.StartHTTP(ctx); err != nil {
			errChan <- fmt.Errorf("http: %w", err)
		}
	}()

	// 9. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 10. Channel gauges
	go reportChannelMetrics(ctx, metrics, map[string]func() (int, int){
		"raw_events":   func() (int, int) { return len(rawEventChan), cap(rawEventChan) },
		"typed_events": func() (int, int) { return len(typedEventChan), cap(typedEventChan) },
		"persist":      func() (int, int) { return len(persistCoreChan), cap(persistCoreChan) },
		"alerts":       func() (int, int) { return len(alertCoreChan), cap(alertCoreChan) },
		"rollup":       func() (int, int) { return len(projectionChan), cap(projectionChan) },
	})

	healthChecker.SetReady(true)
	srv.SetServing(true)

	logger.Info().
		Int64("sequence", parityCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("PerpParity ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, let the core finish, then drain the bridge and workers.
	healthChecker.SetReady(false)
	srv.SetServing(false)
	natsSubscriber.Stop()
	cancel()
	<-ingestDone

	close(persistCoreChan)
	close(alertCoreChan)

	select {
	case <-persistDone:
		logger.Info().Msg("persistence drained")
	case <-time.After(30 * time.Second):
		logger.Error().Msg("persistence drain timed out")
	}
	cancelWorkers()

	logger.Info().Msg("PerpParity shutdown complete")
}

// bridgeCoreOutputs converts core outputs to the persistence, rollup and
// alert formats. It returns once both inputs are closed, closing its outputs.
// Persistence blocks; the rollup and alerts drop when full.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	alertIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	alertOut chan<- ingestion.Alert,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	defer close(persistOut)
	defer close(projectionOut)
	defer close(alertOut)

	for persistIn != nil || alertIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			persistOut <- toPersistence(output)
			select {
			case projectionOut <- toProjection(output):
			default:
				logger.Warn().Int64("sequence", output.Envelope.Sequence).Msg("rollup queue full, rebuild on restart")
			}

		case output, ok := <-alertIn:
			if !ok {
				alertIn = nil
				continue
			}
			for _, alert := range toAlerts(output) {
				select {
				case alertOut <- alert:
					metrics.AlertsPublished.Inc()
				default:
					metrics.AlertDrops.Inc()
					logger.Warn().Str("check_id", alert.CheckID).Msg("alert queue full, dropped")
				}
			}
		}
	}
}

func toPersistence(output core.CoreOutput) persistence.CoreOutput {
	env := output.Envelope
	row := persistence.EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PairIndex:      int64Ptr(env.PairIndex),
		BlockNumber:    int64(env.BlockNumber),
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
	}

	results := make([]persistence.ResultRow, 0, len(output.Results))
	for _, r := range output.Results {
		results = append(results, persistence.ResultRow{
			CheckID:        r.CheckID.String(),
			Sequence:       r.Sequence,
			Kind:           string(r.Kind),
			Field:          r.Field,
			PairIndex:      int64Ptr(r.PairIndex),
			Subject:        r.Subject,
			BlockNumber:    int64(r.BlockNumber),
			Expected:       r.Expected.String(),
			Observed:       r.Observed.String(),
			Diff:           r.Diff().String(),
			Matched:        r.Matched,
			IdempotencyKey: r.IdempotencyKey,
			Timestamp:      r.Timestamp,
		})
	}
	return persistence.CoreOutput{EventRow: row, ResultRows: results}
}

func toProjection(output core.CoreOutput) projection.ProjectionOutput {
	checks := make([]projection.CheckSummary, 0, len(output.Results))
	for _, r := range output.Results {
		pair := projection.VaultPairIndex
		if r.PairIndex != nil {
			pair = int64(*r.PairIndex)
		}
		checks = append(checks, projection.CheckSummary{
			Kind:        string(r.Kind),
			Field:       r.Field,
			PairIndex:   pair,
			BlockNumber: int64(r.BlockNumber),
			Matched:     r.Matched,
		})
	}
	return projection.ProjectionOutput{Sequence: output.Envelope.Sequence, Checks: checks}
}

func toAlerts(output core.CoreOutput) []ingestion.Alert {
	var alerts []ingestion.Alert
	for _, r := range core.Mismatches(output.Results) {
		alerts = append(alerts, ingestion.Alert{
			CheckID:        r.CheckID.String(),
			Check:          string(r.Kind),
			Sequence:       r.Sequence,
			IdempotencyKey: r.IdempotencyKey,
			PairIndex:      r.PairIndex,
			BlockNumber:    r.BlockNumber,
			Expected:       r.Expected.String(),
			Observed:       r.Observed.String(),
			Diff:           r.Diff().String(),
			Detail:         r.Field + " " + r.Subject,
			Timestamp:      r.Timestamp,
		})
	}
	return alerts
}

func int64Ptr(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	i := int64(*v)
	return &i
}

// runIngestionLoop is the only goroutine that calls ProcessEvent.
// NATS messages are acked once parsed and handed to the core; unparseable
// messages are acked so they are not redelivered forever.
func runIngestionLoop(
	ctx context.Context,
	rawChan <-chan ingestion.RawEvent,
	typedChan <-chan event.Event,
	parityCore *core.ParityCore,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	process := func(evt event.Event, source string) {
		if err := parityCore.ProcessEvent(evt); err != nil {
			logger.Error().Err(err).
				Str("source", source).
				Str("type", evt.EventType().String()).
				Str("key", evt.IdempotencyKey()).
				Msg("core.ProcessEvent failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			evt, err := ingestion.ParseRawEvent(raw, raw.EventType)
			if err != nil {
				metrics.IngestParseErrors.WithLabelValues(raw.EventType).Inc()
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse event failed")
				raw.AckFunc()
				continue
			}
			process(evt, "nats")
			raw.AckFunc()

		case evt, ok := <-typedChan:
			if !ok {
				return
			}
			process(evt, "local")
		}
	}
}

// replayEventLog feeds parity.events back through the core and fails on the
// first state hash that differs from the stored one.
func replayEventLog(ctx context.Context, reader *persistence.EventLogReader, parityCore *core.ParityCore, logger zerolog.Logger) (int64, error) {
	const batchSize = 1000
	var replayed int64
	from := int64(-1)

	for {
		rows, err := reader.LoadEventsFrom(ctx, from, batchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events after seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			return replayed, nil
		}

		for _, row := range rows {
			evt, err := event.Decode(row.EventType, row.Payload)
			if err != nil {
				return replayed, fmt.Errorf("decode seq %d: %w", row.Sequence, err)
			}
			env, err := parityCore.Replay(evt)
			if err != nil {
				return replayed, fmt.Errorf("replay seq %d: %w", row.Sequence, err)
			}
			if env == nil {
				logger.Warn().Int64("sequence", row.Sequence).Msg("replayed event was a duplicate")
				continue
			}
			if env.Sequence != row.Sequence {
				return replayed, fmt.Errorf("sequence drift: log %d, core %d", row.Sequence, env.Sequence)
			}
			if !bytes.Equal(env.StateHash[:], row.StateHash) {
				return replayed, fmt.Errorf("state hash mismatch at seq %d: log %x, core %x",
					row.Sequence, row.StateHash, env.StateHash)
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence
	}
}

func reportChannelMetrics(ctx context.Context, metrics *observability.Metrics, channels map[string]func() (int, int)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, sizes := range channels {
				size, capacity := sizes()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}
