package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guardledger"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Ledger metrics
	LedgerOperations  *prometheus.CounterVec
	ReentryRejected   prometheus.Counter
	TransfersRejected prometheus.Counter
	HeldValue         *prometheus.GaugeVec
	Reserve           *prometheus.GaugeVec
	CallDepth         prometheus.Histogram

	// Outbox metrics
	OutboxWrites    *prometheus.CounterVec
	OutboxPending   prometheus.Gauge
	EventsPublished *prometheus.CounterVec

	// Simulation metrics
	SimulationsRun *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge

	// Redis metrics
	RedisOperations *prometheus.CounterVec
	RedisErrors     *prometheus.CounterVec

	// Authentication metrics
	AuthFailures *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Ledger metrics
		LedgerOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Top-level ledger operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		ReentryRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reentry_rejected_total",
			Help:      "Re-entrant calls refused by the guard",
		}),
		TransfersRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_rejected_total",
			Help:      "Transfers rejected by their recipient and rolled back",
		}),
		HeldValue: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "held_value",
				Help:      "Value held on behalf of accounts",
			},
			[]string{"ledger"},
		),
		Reserve: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reserve_value",
				Help:      "Collected fees owed to no account",
			},
			[]string{"ledger"},
		),
		CallDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_depth",
			Help:      "Deepest ledger call nesting reached per top-level operation",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100, 1000},
		}),

		// Outbox metrics
		OutboxWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_writes_total",
				Help:      "Ledger events written to the outbox by status",
			},
			[]string{"status"},
		),
		OutboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending_events",
			Help:      "Ledger events not yet written to the outbox",
		}),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Outbox events handed to the publisher by status",
			},
			[]string{"status"},
		),

		// Simulation metrics
		SimulationsRun: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulations_total",
				Help:      "Attack simulations by variant and outcome",
			},
			[]string{"variant", "outcome"},
		),

		// API metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),

		// Redis metrics
		RedisOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redis_operations_total",
				Help:      "Total Redis operations",
			},
			[]string{"operation"},
		),
		RedisErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redis_errors_total",
				Help:      "Total Redis errors",
			},
			[]string{"operation"},
		),

		// Authentication metrics
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total authentication failures",
			},
			[]string{"reason"},
		),

		// Rate limiting metrics
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests refused by the rate limiter",
			},
			[]string{"path"},
		),
	}
}

// RecordOperation counts a top-level ledger operation. result is "ok" or an
// error kind.
func (m *Metrics) RecordOperation(operation, result string) {
	m.LedgerOperations.WithLabelValues(operation, result).Inc()
}

// RecordRejections adds newly observed guard and transfer rejections.
func (m *Metrics) RecordRejections(reentry, transfer uint64) {
	m.ReentryRejected.Add(float64(reentry))
	m.TransfersRejected.Add(float64(transfer))
}

// SetCustody publishes a ledger's held value and reserve.
func (m *Metrics) SetCustody(ledger string, held, reserve float64) {
	m.HeldValue.WithLabelValues(ledger).Set(held)
	m.Reserve.WithLabelValues(ledger).Set(reserve)
}

// ObserveDepth records the call nesting of one top-level operation.
func (m *Metrics) ObserveDepth(depth int) {
	m.CallDepth.Observe(float64(depth))
}

// RecordOutboxWrite counts events written to, or failed to reach, the outbox.
func (m *Metrics) RecordOutboxWrite(status string, n, pending int) {
	m.OutboxWrites.WithLabelValues(status).Add(float64(n))
	m.OutboxPending.Set(float64(pending))
}

// RecordPublish counts an event handed to the publisher.
func (m *Metrics) RecordPublish(status string) {
	m.EventsPublished.WithLabelValues(status).Inc()
}

// RecordSimulation counts a finished attack simulation.
func (m *Metrics) RecordSimulation(variant, outcome string) {
	m.SimulationsRun.WithLabelValues(variant, outcome).Inc()
}

// RecordRedis counts a Redis call and, when err is non-nil, its failure.
func (m *Metrics) RecordRedis(operation string, err error) {
	m.RedisOperations.WithLabelValues(operation).Inc()
	if err != nil {
		m.RedisErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAuthFailure counts a rejected credential.
func (m *Metrics) RecordAuthFailure(reason string) {
	m.AuthFailures.WithLabelValues(reason).Inc()
}

// RecordRateLimit counts a request refused by the rate limiter.
func (m *Metrics) RecordRateLimit(path string) {
	m.RateLimitHits.WithLabelValues(path).Inc()
}
