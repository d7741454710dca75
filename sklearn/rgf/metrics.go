package rgf

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "rgf"
	metricsSubsystem = "train"
)

// Metrics exposes training progress as Prometheus collectors. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	leaves         prometheus.Gauge
	trees          prometheus.Gauge
	splits         prometheus.Counter
	optimizerCalls prometheus.Counter
	clamped        prometheus.Counter
	spilledBytes   prometheus.Counter
	testPoints     prometheus.Counter
	phaseSeconds   *prometheus.CounterVec
	exits          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a private
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		leaves: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "leaves", Help: "Number of leaves in the forest.",
		}),
		trees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "trees", Help: "Number of trees in the forest.",
		}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "splits_total", Help: "Node splits applied.",
		}),
		optimizerCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "optimizer_calls_total", Help: "Weight optimization passes.",
		}),
		clamped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "clamped_deltas_total", Help: "Weight updates truncated by max_delta.",
		}),
		spilledBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "spilled_bytes_total", Help: "Bytes of example indexes written to the spill store.",
		}),
		testPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "test_checkpoints_total", Help: "Test checkpoints reached.",
		}),
		phaseSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "phase_seconds_total", Help: "Time spent per training phase.",
		}, []string{"phase"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "exits_total", Help: "Training exits by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(m.leaves, m.trees, m.splits, m.optimizerCalls,
		m.clamped, m.spilledBytes, m.testPoints, m.phaseSeconds, m.exits)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) observeSize(trees, leaves int) {
	if m == nil {
		return
	}
	m.trees.Set(float64(trees))
	m.leaves.Set(float64(leaves))
}

func (m *Metrics) incSplit() {
	if m != nil {
		m.splits.Inc()
	}
}

func (m *Metrics) incOptimizer() {
	if m != nil {
		m.optimizerCalls.Inc()
	}
}

func (m *Metrics) addClamped(n int) {
	if m != nil && n > 0 {
		m.clamped.Add(float64(n))
	}
}

func (m *Metrics) addSpilled(n int) {
	if m != nil && n > 0 {
		m.spilledBytes.Add(float64(n))
	}
}

func (m *Metrics) incTest() {
	if m != nil {
		m.testPoints.Inc()
	}
}

func (m *Metrics) addPhase(phase string, d time.Duration) {
	if m != nil {
		m.phaseSeconds.WithLabelValues(phase).Add(d.Seconds())
	}
}

func (m *Metrics) incExit(reason string) {
	if m != nil {
		m.exits.WithLabelValues(reason).Inc()
	}
}
