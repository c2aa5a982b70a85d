package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "leadqual"

// EngineMetrics exposes counters/histograms for the conversation engine.
// A nil *EngineMetrics is a valid no-op.
type EngineMetrics struct {
	pipelineRuns      *prometheus.CounterVec
	stepLatency       *prometheus.HistogramVec
	actionsTotal      *prometheus.CounterVec
	generationLatency *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	versionConflicts  prometheus.Counter
	webhookTotal      *prometheus.CounterVec
	alertsTotal       *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total dialogue pipeline runs by outcome",
		}, []string{"outcome"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_latency_seconds",
			Help:      "Latency of individual pipeline steps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step", "status"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "actions_total",
			Help:      "Capability actions executed",
		}, []string{"action", "status"}),
		generationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "latency_seconds",
			Help:      "Latency of language generation calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"provider", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state_cache",
			Name:      "lookups_total",
			Help:      "State cache lookups by result",
		}, []string{"result"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state_store",
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts on state writes",
		}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound CRM webhook events",
		}, []string{"event_type", "status"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Sales alerts sent",
		}, []string{"kind", "status"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qualification",
			Name:      "status_transitions_total",
			Help:      "Qualification status changes",
		}, []string{"from", "to"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.pipelineRuns, m.stepLatency, m.actionsTotal, m.generationLatency,
		m.cacheLookups, m.versionConflicts, m.webhookTotal, m.alertsTotal,
		m.statusTransitions,
	)
	return m
}

func (m *EngineMetrics) ObservePipelineRun(failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "fallback"
	}
	m.pipelineRuns.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) ObserveStep(step string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(step, statusLabel(err)).Observe(d.Seconds())
}

func (m *EngineMetrics) ObserveAction(action string, err error) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(action, statusLabel(err)).Inc()
}

func (m *EngineMetrics) ObserveGeneration(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "unknown"
	}
	m.generationLatency.WithLabelValues(provider, statusLabel(err)).Observe(d.Seconds())
}

// ObserveCacheLookup satisfies statestore.CacheObserver.
func (m *EngineMetrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) ObserveVersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

func (m *EngineMetrics) ObserveWebhook(eventType, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, status).Inc()
}

func (m *EngineMetrics) ObserveAlert(kind string, err error) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(kind, statusLabel(err)).Inc()
}

func (m *EngineMetrics) ObserveStatusTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
