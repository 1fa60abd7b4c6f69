package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

const namespace = "safeglove"

// Metrics exports engine events as Prometheus series on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	score         prometheus.Gauge
	contributions *prometheus.GaugeVec
	level         prometheus.Gauge
	transitions   *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	critical      prometheus.Counter
	stale         *prometheus.GaugeVec
}

// NewMetrics registers the engine series on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		score: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fusion", Name: "score",
			Help: "Latest fused threat score.",
		}),
		contributions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fusion", Name: "source_contribution",
			Help: "Latest weighted contribution per source.",
		}, []string{"source"}),
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "escalation", Name: "level",
			Help: "Current threat level (0 safe .. 3 emergency).",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "escalation", Name: "transitions_total",
			Help: "Level transitions by origin and destination.",
		}, []string{"from", "to"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "tasks_total",
			Help: "Dispatch tasks reaching a terminal status.",
		}, []string{"kind", "status"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "attempts_total",
			Help: "Executor invocations per action kind.",
		}, []string{"kind"}),
		critical: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "critical_failures_total",
			Help: "Permanent failures of actions without fallback.",
		}),
		stale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fusion", Name: "source_stale",
			Help: "1 when a source stopped producing events.",
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		m.score,
		m.contributions,
		m.level,
		m.transitions,
		m.tasks,
		m.attempts,
		m.critical,
		m.stale,
	)

	return m
}

// Registry returns the registry holding the engine series.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ScoreComputed implements Observer.
func (m *Metrics) ScoreComputed(_ context.Context, score threat.ThreatScore) {
	m.score.Set(score.Value)

	for source, contribution := range score.Breakdown {
		m.contributions.WithLabelValues(string(source)).Set(contribution)
	}
}

// LevelChanged implements Observer.
func (m *Metrics) LevelChanged(_ context.Context, transition threat.LevelTransition) {
	m.level.Set(float64(transition.To))
	m.transitions.WithLabelValues(transition.From.String(), transition.To.String()).Inc()
}

// TaskChanged implements Observer.
func (m *Metrics) TaskChanged(_ context.Context, task threat.DispatchTask) {
	kind := string(task.Action.Kind)

	if task.Status == threat.TaskInFlight {
		m.attempts.WithLabelValues(kind).Inc()

		return
	}

	if task.Status.Terminal() {
		m.tasks.WithLabelValues(kind, task.Status.String()).Inc()
	}
}

// CriticalFailure implements Observer.
func (m *Metrics) CriticalFailure(context.Context, threat.CriticalDispatchFailure) {
	m.critical.Inc()
}

// SensorHealth implements Observer.
func (m *Metrics) SensorHealth(_ context.Context, health threat.SensorHealth) {
	value := 0.0
	if health.Stale {
		value = 1
	}

	m.stale.WithLabelValues(string(health.Source)).Set(value)
}
