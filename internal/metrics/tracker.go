package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "depmgr"

// Phase labels
const (
	PhaseProviders  = "providers"
	PhaseEnrichment = "enrichment"
	PhaseInference  = "inference"
	PhaseWrite      = "write"
)

// Tracker records discovery runs. A nil *Tracker records nothing.
type Tracker struct {
	runs          prometheus.Counter
	phaseDuration *prometheus.HistogramVec
	nodes         *prometheus.CounterVec
	edges         *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

// NewTracker registers the discovery collectors on reg
func NewTracker(reg prometheus.Registerer) *Tracker {
	factory := promauto.With(reg)
	return &Tracker{
		// runs counts completed RunDiscoveryForUser calls
		runs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_runs_total",
			Help:      "Total discovery runs",
		}),
		// phaseDuration measures each pipeline phase.
		// Labels: phase (providers, enrichment, inference, write)
		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of discovery phases in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"phase"}),
		nodes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_discovered_total",
			Help:      "Service nodes discovered per provider",
		}, []string{"provider"}),
		edges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_inferred_total",
			Help:      "Dependency edges inferred per engine",
		}, []string{"engine"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_errors_total",
			Help:      "Errors reported in discovery summaries per phase",
		}, []string{"phase"}),
	}
}

// RunCompleted counts a finished run
func (t *Tracker) RunCompleted() {
	if t == nil {
		return
	}
	t.runs.Inc()
}

// ObservePhase records how long a phase took
func (t *Tracker) ObservePhase(phase string, d time.Duration) {
	if t == nil {
		return
	}
	t.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// NodesDiscovered adds n nodes for provider
func (t *Tracker) NodesDiscovered(provider string, n int) {
	if t == nil || n <= 0 {
		return
	}
	t.nodes.WithLabelValues(provider).Add(float64(n))
}

// EdgesInferred adds n edges for engine
func (t *Tracker) EdgesInferred(engine string, n int) {
	if t == nil || n <= 0 {
		return
	}
	t.edges.WithLabelValues(engine).Add(float64(n))
}

// ErrorsReported adds n summary errors for phase
func (t *Tracker) ErrorsReported(phase string, n int) {
	if t == nil || n <= 0 {
		return
	}
	t.errors.WithLabelValues(phase).Add(float64(n))
}
