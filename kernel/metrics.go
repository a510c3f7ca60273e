package kernel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of a kernel
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	SpawnDuration     prometheus.Histogram
	ActiveExecutions  prometheus.Gauge
	OutputOverflow    *prometheus.CounterVec
	StderrBytes       prometheus.Histogram
	MemoryPeak        prometheus.Histogram
	OOMKills          prometheus.Counter
}

// NewMetrics creates and registers all metrics on a dedicated registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "forkserver",
				Name:      "executions_total",
				Help:      "Total number of module calls by function and outcome.",
			},
			[]string{"function", "outcome"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "forkserver",
				Name:      "execution_duration_seconds",
				Help:      "Duration of module calls in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"function"},
		),

		SpawnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "forkserver",
				Name:      "spawn_duration_seconds",
				Help:      "Duration of spawn round trips to the helper, including waiting for the lock.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
			},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "forkserver",
				Name:      "active_executions",
				Help:      "Number of module calls in progress.",
			},
		),

		OutputOverflow: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "forkserver",
				Name:      "output_overflow_total",
				Help:      "Module processes that wrote more than the limit of a stream.",
			},
			[]string{"stream"},
		),

		StderrBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "forkserver",
				Name:      "stderr_bytes",
				Help:      "Size of captured module process stderr in bytes.",
				Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
			},
		),

		MemoryPeak: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "forkserver",
				Name:      "memory_peak_bytes",
				Help:      "Peak memory of module processes run in a cgroup.",
				Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12),
			},
		),

		OOMKills: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "forkserver",
				Name:      "oom_kills_total",
				Help:      "Module processes killed by their cgroup memory limit.",
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.SpawnDuration,
		m.ActiveExecutions,
		m.OutputOverflow,
		m.StderrBytes,
		m.MemoryPeak,
		m.OOMKills,
	)
	return m
}

// RecordExecution records a completed call
func (m *Metrics) RecordExecution(function, outcome string, d time.Duration) {
	m.ExecutionsTotal.WithLabelValues(function, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(function).Observe(d.Seconds())
}
