package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpParity.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Parity checks ---
	ParityChecks        *prometheus.CounterVec
	ParityMismatchBlock *prometheus.GaugeVec
	AlertsPublished     prometheus.Counter
	AlertDrops          prometheus.Counter

	// --- Model state ---
	OpenPositions       prometheus.Gauge
	OpenInterest        *prometheus.GaugeVec
	EpochCurrent        prometheus.Gauge
	EpochRequestsIssued prometheus.Counter
	EpochRollovers      prometheus.Counter
	OracleAnswers       *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PersistBackpressure prometheus.Counter

	// --- Ingestion & Ordering ---
	IngestParseErrors     *prometheus.CounterVec
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter
	EventOutOfOrder       *prometheus.CounterVec

	// --- Chain poller ---
	ChainPolls        *prometheus.CounterVec
	ChainPollDuration prometheus.Histogram
	ChainHeadBlock    prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten  prometheus.Counter
	PersistResultsWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Replay ---
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_core_events_rejected_total",
			Help: "Events rejected (dedup, ordering, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parity_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parity_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parity_core_sequence",
			Help: "Current global sequence number",
		}),

		// Parity checks
		ParityChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_checks_total",
			Help: "Model vs chain comparisons",
		}, []string{"kind", "field", "result"}),

		ParityMismatchBlock: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parity_last_mismatch_block",
			Help: "Block number of the latest mismatch per check kind",
		}, []string{"kind"}),

		AlertsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parity_alerts_published_total",
			Help: "Mismatch alerts published to NATS",
		}),

		AlertDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parity_alert_drops_total",
			Help: "Alerts dropped due to full alert channel",
		}),

		// Model state
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parity_open_positions",
			Help: "Positions open in the model",
		}),

		OpenInterest: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parity_open_interest_weth",
			Help: "Modelled open interest per pair and side (WETH)",
		}, []string{"pair", "side"}),

		EpochCurrent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parity_epoch_current",
			Help: "Modelled vault epoch",
		}),

		EpochRequestsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parity_epoch_requests_issued_total",
			Help: "Open-PnL requests issued by the model",
		}),

		EpochRollovers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parity_epoch_rollovers_total",
			Help: "Epoch rollovers applied by the model",
		}),

		OracleAnswers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_oracle_answers_total",
			Help: "Open-PnL oracle answers by outcome",
		}, []string{"outcome"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parity_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parity_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parity_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parity_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		// Ingestion & Ordering
		IngestParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_ingest_parse_errors_total",
			Help: "Raw events that failed to parse",
		}, []string{"event_type"}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_idempotency_duplicates_total",
			Help: "Duplicate events by dedup tier",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parity_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		DedupTier2Errors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parity_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_event_out_of_order_total",
			Help: "Events older than the partition's last applied block",
		}, []string{"partition"}),

		// Chain poller
		ChainPolls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_chain_polls_total",
			Help: "Getter polls by result",
		}, []string{"result"}),

		ChainPollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parity_chain_poll_duration_seconds",
			Help:    "Time to read all getters for one poll",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		ChainHeadBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parity_chain_head_block",
			Help: "Latest block seen by the poller",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parity_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistResultsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parity_persist_results_written_total",
			Help: "Check results written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parity_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parity_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parity_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parity_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Replay
		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parity_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parity_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parity_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parity_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
