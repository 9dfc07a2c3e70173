package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors describing the pricing engine.
type Metrics struct {
	Cycles        prometheus.Counter
	OracleCalls   *prometheus.CounterVec
	StaleDiscards prometheus.Counter
	CycleDuration prometheus.Histogram
	Sessions      prometheus.Gauge
}

// NewMetrics builds and registers engine collectors, reusing collectors that
// are already registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_cycles_total",
			Help:      "Number of fetch cycles run by pricing sessions.",
		}),
		OracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_oracle_calls_total",
			Help:      "Pricing oracle calls by node kind and outcome.",
		}, []string{"kind", "result"}),
		StaleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_stale_results_total",
			Help:      "Oracle results discarded because the node changed while in flight.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_cycle_duration_seconds",
			Help:      "Duration of fetch cycles from fan-out to merge.",
			Buckets:   prometheus.DefBuckets,
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pricing_sessions_active",
			Help:      "Open pricing sessions.",
		}),
	}
	m.Cycles = register(reg, m.Cycles)
	m.OracleCalls = register(reg, m.OracleCalls)
	m.StaleDiscards = register(reg, m.StaleDiscards)
	m.CycleDuration = register(reg, m.CycleDuration)
	m.Sessions = register(reg, m.Sessions)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) cycle() {
	if m != nil {
		m.Cycles.Inc()
	}
}

func (m *Metrics) call(kind, result string) {
	if m != nil {
		m.OracleCalls.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) stale() {
	if m != nil {
		m.StaleDiscards.Inc()
	}
}

func (m *Metrics) observe(seconds float64) {
	if m != nil {
		m.CycleDuration.Observe(seconds)
	}
}

func (m *Metrics) sessions(delta float64) {
	if m != nil {
		m.Sessions.Add(delta)
	}
}
