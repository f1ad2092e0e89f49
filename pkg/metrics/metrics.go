package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	SitesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chom_sites_total",
			Help: "Total number of sites by status",
		},
		[]string{"status"},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chom_nodes_total",
			Help: "Total number of nodes by status and health",
		},
		[]string{"status", "health"},
	)

	BackupsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chom_backups_total",
			Help: "Total number of backup records by status",
		},
		[]string{"status"},
	)

	// Orchestrator metrics
	ProvisionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chom_provision_attempts_total",
			Help: "Total provisioning attempts by outcome",
		},
		[]string{"outcome"},
	)

	FailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chom_failovers_total",
			Help: "Total node failovers performed during provisioning",
		},
	)

	// Bridge metrics
	BridgeCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chom_bridge_calls_total",
			Help: "Total bridge calls by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)

	BridgeCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chom_bridge_call_duration_seconds",
			Help:    "Bridge call duration in seconds, including connection setup",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Coherency metrics
	CoherencyRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chom_coherency_runs_total",
			Help: "Total coherency check runs",
		},
	)

	CoherencyIssues = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chom_coherency_issues",
			Help: "Issues found in the last coherency run by category",
		},
		[]string{"category"},
	)

	CoherencyRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chom_coherency_run_duration_seconds",
			Help:    "Coherency run duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 120, 300, 600, 900},
		},
	)

	// Remediation metrics
	RemediationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chom_remediations_total",
			Help: "Total remediation jobs dispatched by category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(SitesTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(BackupsTotal)
	prometheus.MustRegister(ProvisionAttemptsTotal)
	prometheus.MustRegister(FailoversTotal)
	prometheus.MustRegister(BridgeCallsTotal)
	prometheus.MustRegister(BridgeCallDuration)
	prometheus.MustRegister(CoherencyRunsTotal)
	prometheus.MustRegister(CoherencyIssues)
	prometheus.MustRegister(CoherencyRunDuration)
	prometheus.MustRegister(RemediationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into the given histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}
