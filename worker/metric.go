package worker

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports worker outcomes. A nil *Metrics records nothing.
type Metrics struct {
	spawned   *prometheus.CounterVec
	completed *prometheus.CounterVec
	held      prometheus.Histogram
	running   prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		spawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_spawn_total",
			Help:      "Spawn attempts by result.",
		}, []string{"result"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_completed_total",
			Help:      "Joined workers by failure step.",
		}, []string{"failure"}),
		held: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_hold_seconds",
			Help:      "Time a worker held its mutex.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_running",
			Help:      "Workers started and not yet finished.",
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.spawned, m.completed, m.held, m.running}
}

func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Collectors()...)
}

func (m *Metrics) spawn(err error) {
	if m == nil {
		return
	}
	m.spawned.WithLabelValues(spawnResult(err)).Inc()
	if err == nil {
		m.running.Inc()
	}
}

func (m *Metrics) done(res Result) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.completed.WithLabelValues(res.Failure.String()).Inc()
	if res.Held > 0 {
		m.held.Observe(res.Held.Seconds())
	}
}

func spawnResult(err error) string {
	switch errors.Cause(err) {
	case nil:
		return "ok"
	case ErrNilMutex:
		return "nil_mutex"
	case ErrAllocation:
		return "allocation"
	case ErrThreadStart:
		return "thread_start"
	default:
		return "unknown"
	}
}
