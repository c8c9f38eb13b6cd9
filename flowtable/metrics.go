package flowtable

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "nattable"
	metricsSubsystem = "flowtable"
)

// Metrics instruments a Table. A nil *Metrics records nothing.
type Metrics struct {
	entries    prometheus.Gauge
	collisions prometheus.Counter
	evictions  prometheus.Counter
	removals   prometheus.Counter
	clears     prometheus.Counter
}

// NewMetrics creates the flow table metrics and registers them with
// reg, if reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "entries",
			Help:      "Number of internal/external flow pairs in the table",
		}),
		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "collisions_total",
			Help:      "Inserts rejected because a flow was already mapped",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "evictions_total",
			Help:      "Pairs displaced by overwriting inserts",
		}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "removals_total",
			Help:      "Pairs removed by flow teardown",
		}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "clears_total",
			Help:      "Number of times the table was cleared",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.entries, m.collisions, m.evictions, m.removals, m.clears)
	}
	return m
}

func (m *Metrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}

func (m *Metrics) collision() {
	if m == nil {
		return
	}
	m.collisions.Inc()
}

func (m *Metrics) evicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Metrics) removed() {
	if m == nil {
		return
	}
	m.removals.Inc()
}

func (m *Metrics) cleared() {
	if m == nil {
		return
	}
	m.clears.Inc()
}
