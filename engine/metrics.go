package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kalendo/automation/audit"
)

// Metrics holds Prometheus metrics for the dispatch pipeline. A nil
// *Metrics disables instrumentation entirely (nil receiver methods are
// no-ops), so tests and embedded deployments can skip the registry.
type Metrics struct {
	dispatchesTotal   *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	actionsTotal      *prometheus.CounterVec
	offsetsRegistered prometheus.Counter
	retroRejected     prometheus.Counter
}

// NewMetrics creates and registers pipeline metrics. Returns nil when reg
// is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "automation",
			Subsystem: "engine",
			Name:      "dispatches_total",
			Help:      "Total dispatch attempts by trigger kind and outcome",
		}, []string{"trigger", "outcome"}),

		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "automation",
			Subsystem: "engine",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent on one rule dispatch (evaluate through audit)",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"trigger"}),

		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "automation",
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Action executions by type and result",
		}, []string{"action_type", "result"}),

		offsetsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "automation",
			Subsystem: "engine",
			Name:      "offsets_registered_total",
			Help:      "Relative-offset trigger registrations handed to the scheduler",
		}),

		retroRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "automation",
			Subsystem: "engine",
			Name:      "retro_rejected_total",
			Help:      "Retroactive runs rejected by the per-rule cooldown",
		}),
	}

	reg.MustRegister(
		m.dispatchesTotal,
		m.dispatchDuration,
		m.actionsTotal,
		m.offsetsRegistered,
		m.retroRejected,
	)
	return m
}

func (m *Metrics) observeDispatch(kind audit.TriggerKind, outcome audit.Outcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(string(kind), string(outcome)).Inc()
	m.dispatchDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

func (m *Metrics) observeAction(actionType string, applied bool) {
	if m == nil {
		return
	}
	result := "failure"
	if applied {
		result = "success"
	}
	m.actionsTotal.WithLabelValues(actionType, result).Inc()
}

func (m *Metrics) observeOffsetRegistered() {
	if m == nil {
		return
	}
	m.offsetsRegistered.Inc()
}

func (m *Metrics) observeRetroRejected() {
	if m == nil {
		return
	}
	m.retroRejected.Inc()
}
