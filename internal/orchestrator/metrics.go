package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for pipeline and routing activity.
type Metrics struct {
	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	tools         *prometheus.CounterVec
	turnsActive   prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the instance registered with the global registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg. Collectors that are
// already registered are reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		stageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coach",
				Subsystem: "pipeline",
				Name:      "stage_total",
				Help:      "Pipeline stage executions by outcome.",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "coach",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coach",
				Subsystem: "pipeline",
				Name:      "failures_total",
				Help:      "Terminal pipeline failures by reason.",
			},
			[]string{"reason"},
		),
		tools: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coach",
				Subsystem: "router",
				Name:      "tools_total",
				Help:      "Messages dispatched per routed tool.",
			},
			[]string{"tool"},
		),
		turnsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "coach",
				Name:      "turns_active",
				Help:      "Messages currently being handled.",
			},
		),
	}

	m.stageTotal = register(reg, m.stageTotal)
	m.stageDuration = register(reg, m.stageDuration)
	m.failures = register(reg, m.failures)
	m.tools = register(reg, m.tools)
	m.turnsActive = register(reg, m.turnsActive)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage Stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(string(stage), outcome).Inc()
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// IncFailure counts a terminal failure.
func (m *Metrics) IncFailure(reason Reason) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(string(reason)).Inc()
}

// IncTool counts a routed tool.
func (m *Metrics) IncTool(tool Tool) {
	if m == nil {
		return
	}
	m.tools.WithLabelValues(string(tool)).Inc()
}

func (m *Metrics) turnStarted() {
	if m != nil {
		m.turnsActive.Inc()
	}
}

func (m *Metrics) turnFinished() {
	if m != nil {
		m.turnsActive.Dec()
	}
}
