// Package metrics exposes the server host's Prometheus instrumentation
// (§14), grounded on
// runZeroInc-conniver/pkg/exporter/exporter.go's direct use of
// github.com/prometheus/client_golang/prometheus. That collector polls
// per-connection kernel state on every scrape; this package's metrics are
// pushed by the tick loop as events happen, so a plain registered
// CounterVec/GaugeVec/Histogram set fits better than a custom
// prometheus.Collector — there is no external state to poll, only counts
// the host already holds.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server bundles every metric the server host updates over one process
// lifetime.
type Server struct {
	Registry *prometheus.Registry

	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter
	ProtocolErrors      *prometheus.CounterVec // label: message_id
	DesyncsDetected     prometheus.Counter
	IdleTransitions     *prometheus.CounterVec // label: state (paused|quit)

	CurrentUpdateIdx prometheus.Gauge
	StoredHistoryLen prometheus.Gauge
	ConnectionShift  *prometheus.GaugeVec // label: connection_id
	WorkerQueueDepth prometheus.Gauge

	TickDuration prometheus.Histogram
}

// NewServer constructs and registers every metric against a fresh registry,
// labeled with instanceID (§15) so multiple local game instances don't
// collide on one shared Prometheus scrape target.
func NewServer(instanceID string) *Server {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"instance_id": instanceID}

	s := &Server{
		Registry: reg,
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netcode_connections_accepted_total",
			Help:        "Connect messages accepted.",
			ConstLabels: constLabels,
		}),
		ConnectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netcode_connections_rejected_total",
			Help:        "Connect messages rejected for protocol version mismatch.",
			ConstLabels: constLabels,
		}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "netcode_protocol_errors_total",
			Help:        "Recoverable protocol errors by message id.",
			ConstLabels: constLabels,
		}, []string{"message_id"}),
		DesyncsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netcode_desyncs_detected_total",
			Help:        "Updates where a client's simulated move hash disagreed with the authoritative one.",
			ConstLabels: constLabels,
		}),
		IdleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "netcode_idle_transitions_total",
			Help:        "Idle-policy state transitions by target state.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		CurrentUpdateIdx: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "netcode_current_update_idx",
			Help:        "The fixed-step update index the host is currently simulating.",
			ConstLabels: constLabels,
		}),
		StoredHistoryLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "netcode_stored_history_length",
			Help:        "Number of updates currently retained in the rewinder ring.",
			ConstLabels: constLabels,
		}),
		ConnectionShift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "netcode_connection_timing_shift",
			Help:        "Per-connection input timing shift computed by the arbiter.",
			ConstLabels: constLabels,
		}, []string{"connection_id"}),
		WorkerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "netcode_worker_queue_depth",
			Help:        "Number of inbound messages buffered in the worker pool's queue.",
			ConstLabels: constLabels,
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "netcode_tick_duration_seconds",
			Help:        "Wall-clock duration of one fixed-step tick.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	reg.MustRegister(
		s.ConnectionsAccepted,
		s.ConnectionsRejected,
		s.ProtocolErrors,
		s.DesyncsDetected,
		s.IdleTransitions,
		s.CurrentUpdateIdx,
		s.StoredHistoryLen,
		s.ConnectionShift,
		s.WorkerQueueDepth,
		s.TickDuration,
	)

	return s
}

// Handler returns the /metrics HTTP handler for this registry, matching
// runZeroInc-sockstats's "serve /metrics on its own listener" exporter
// pattern.
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
}

// ListenAndServe starts a dedicated metrics listener on addr. It blocks
// until the listener fails or the process exits; callers run it in its own
// goroutine.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	return http.ListenAndServe(addr, mux)
}
