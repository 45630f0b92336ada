package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the scheduler's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	passes         prometheus.Counter
	computations   *prometheus.CounterVec
	stale          prometheus.Counter
	generatorSteps prometheus.Counter
	variables      prometheus.Gauge
}

// NewMetrics registers the scheduler metrics with reg under the given
// namespace (default "cellflow").
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "cellflow"
	}
	factory := promauto.With(reg)

	return &Metrics{
		passes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "passes_total",
			Help:      "Total number of per-module recompute passes",
		}),
		computations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "computations_total",
			Help:      "Total number of variable settlements by outcome",
		}, []string{"outcome"}),
		stale: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "stale_results_total",
			Help:      "Total number of results discarded by the version guard",
		}),
		generatorSteps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "generator_steps_total",
			Help:      "Total number of generator steps taken",
		}),
		variables: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "variables",
			Help:      "Number of live variables",
		}),
	}
}

func (m *Metrics) pass() {
	if m != nil {
		m.passes.Inc()
	}
}

func (m *Metrics) settled(t EventType) {
	if m != nil {
		m.computations.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) staleResult() {
	if m != nil {
		m.stale.Inc()
	}
}

func (m *Metrics) step() {
	if m != nil {
		m.generatorSteps.Inc()
	}
}

func (m *Metrics) addVariables(n int) {
	if m != nil {
		m.variables.Add(float64(n))
	}
}
