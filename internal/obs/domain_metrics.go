package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// AutosaveTotal counts snapshot persistence outcomes by store.
	AutosaveTotal *prometheus.CounterVec
	// AutosaveLatency records snapshot save latency in milliseconds.
	AutosaveLatency *prometheus.HistogramVec
	// BookingSessionsTotal counts booking session lifecycle events.
	BookingSessionsTotal *prometheus.CounterVec
	// VoucherValidationsTotal counts voucher validation outcomes.
	VoucherValidationsTotal *prometheus.CounterVec
	// OracleCacheTotal counts quote cache lookups by outcome.
	OracleCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		AutosaveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosave_total",
			Help:      "Count of booking snapshot saves by store and outcome.",
		}, []string{"store", "result"})
		AutosaveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "autosave_duration_ms",
			Help:      "Latency for booking snapshot saves in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"store"})
		BookingSessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_sessions_total",
			Help:      "Count of booking session lifecycle events.",
		}, []string{"event"})
		VoucherValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_validations_total",
			Help:      "Count of voucher validation outcomes.",
		}, []string{"result"})
		OracleCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_cache_total",
			Help:      "Count of pricing oracle quote cache lookups.",
		}, []string{"result"})

		mustRegisterCollector(reg, AutosaveTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				AutosaveTotal = v
			}
		})
		mustRegisterCollector(reg, AutosaveLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				AutosaveLatency = v
			}
		})
		mustRegisterCollector(reg, BookingSessionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BookingSessionsTotal = v
			}
		})
		mustRegisterCollector(reg, VoucherValidationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				VoucherValidationsTotal = v
			}
		})
		mustRegisterCollector(reg, OracleCacheTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OracleCacheTotal = v
			}
		})
	})
}

// ObserveAutosave records one save attempt. It is a no-op until the domain
// metrics are registered.
func ObserveAutosave(store, result string, elapsed time.Duration) {
	if AutosaveTotal != nil {
		AutosaveTotal.WithLabelValues(store, result).Inc()
	}
	if AutosaveLatency != nil {
		AutosaveLatency.WithLabelValues(store).Observe(float64(elapsed.Microseconds()) / 1000)
	}
}

// CountBookingSession records a session lifecycle event such as created or expired.
func CountBookingSession(event string) {
	if BookingSessionsTotal != nil {
		BookingSessionsTotal.WithLabelValues(event).Inc()
	}
}

// CountVoucherValidation records a voucher validation outcome.
func CountVoucherValidation(result string) {
	if VoucherValidationsTotal != nil {
		VoucherValidationsTotal.WithLabelValues(result).Inc()
	}
}

// CountOracleCache records a quote cache hit or miss.
func CountOracleCache(result string) {
	if OracleCacheTotal != nil {
		OracleCacheTotal.WithLabelValues(result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
