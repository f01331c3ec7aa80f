package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Investigation engine metrics for production monitoring
var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ack_agent_runs_total",
			Help: "Total number of investigation runs by outcome",
		},
		[]string{"status"}, // status: completed/failed/duplicate
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ack_agent_run_duration_seconds",
			Help:    "Investigation run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4min
		},
		[]string{"incident_type"},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ack_agent_active_runs",
			Help: "Number of investigation runs in flight",
		},
	)

	// Domain investigator metrics
	DomainCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ack_agent_domain_calls_total",
			Help: "Total number of investigator task calls",
		},
		[]string{"domain", "status"}, // status: success/partial/error/timeout
	)

	DomainCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ack_agent_domain_call_duration_seconds",
			Help:    "Investigator task call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"domain"},
	)

	DomainsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ack_agent_domains_skipped_total",
			Help: "Domains excluded by the investigation plan",
		},
		[]string{"domain"},
	)

	// Finding and storage metrics
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ack_agent_findings_total",
			Help: "Total number of findings recorded",
		},
		[]string{"source"},
	)

	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ack_agent_persistence_errors_total",
			Help: "Store writes that failed and were skipped",
		},
		[]string{"op"},
	)

	// Synthesis metrics
	RootCausesIdentified = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ack_agent_root_causes_per_run",
			Help:    "Number of ranked root causes produced per run",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ack_agent_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "method", "code"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ack_agent_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ack_agent_websocket_connections",
			Help: "Current number of active progress stream connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ack_agent_websocket_messages_total",
			Help: "Total number of progress events written to streams",
		},
	)
)
