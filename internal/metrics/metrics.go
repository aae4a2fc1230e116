// Package metrics exposes Prometheus counters and histograms for the
// broker's dispatch path: request volume, error rate by kind, and
// subprocess latency. Adapted from the teacher's pkg/metrics/metrics.go.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "root_agent_requests_total",
			Help: "Total dispatched requests by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	UnknownActionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "root_agent_unknown_actions_total",
			Help: "Requests naming an action with no registered handler.",
		},
	)

	ProtocolErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "root_agent_protocol_errors_total",
			Help: "Connections dropped for framing/size/deadline violations.",
		},
	)

	SubprocessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "root_agent_subprocess_duration_seconds",
			Help:    "Wall-clock duration of external tool invocations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	LedgerVMsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "root_agent_ledger_vms",
			Help: "Current VM count in the ledger by status.",
		},
		[]string{"status"},
	)

	ReconcilerSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "root_agent_reconciler_sweeps_total",
			Help: "Completed reconciler sweep cycles.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		UnknownActionsTotal,
		ProtocolErrorsTotal,
		SubprocessDuration,
		LedgerVMsGauge,
		ReconcilerSweepsTotal,
	)
}

// Handler returns the /metrics HTTP handler for the configured listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a subprocess invocation and records it against action
// on Observe.
type Timer struct {
	start  time.Time
	action string
}

// NewTimer starts a timer for the given action.
func NewTimer(action string) *Timer {
	return &Timer{start: time.Now(), action: action}
}

// Observe records the elapsed duration into SubprocessDuration.
func (t *Timer) Observe() {
	SubprocessDuration.WithLabelValues(t.action).Observe(time.Since(t.start).Seconds())
}
