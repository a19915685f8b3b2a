package observability

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2plend",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total RPC requests segmented by transport and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2plend",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total RPC errors segmented by transport, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "p2plend",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2plend",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "quota_exceeded".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LendingMetrics tracks engine calls as seen by the node facade.
type LendingMetrics struct {
	calls        *prometheus.CounterVec
	failures     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	activeLoans  prometheus.Gauge
	activeOffers prometheus.Gauge
	liquidations prometheus.Counter
	rollbacks    prometheus.Counter
}

// Lending returns the lending metrics singleton.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2plend",
				Subsystem: "engine",
				Name:      "calls_total",
				Help:      "Engine calls segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2plend",
				Subsystem: "engine",
				Name:      "failures_total",
				Help:      "Rejected engine calls segmented by error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "p2plend",
				Subsystem: "engine",
				Name:      "call_duration_seconds",
				Help:      "Latency of engine calls including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			activeLoans: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "p2plend",
				Subsystem: "engine",
				Name:      "active_loans",
				Help:      "Number of loans currently active.",
			}),
			activeOffers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "p2plend",
				Subsystem: "engine",
				Name:      "active_offers",
				Help:      "Number of offers currently active.",
			}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "p2plend",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Completed liquidations.",
			}),
			rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "p2plend",
				Subsystem: "engine",
				Name:      "rollbacks_total",
				Help:      "Mutating calls whose state changes were discarded.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.calls,
			lendingRegistry.failures,
			lendingRegistry.latency,
			lendingRegistry.activeLoans,
			lendingRegistry.activeOffers,
			lendingRegistry.liquidations,
			lendingRegistry.rollbacks,
		)
	})
	return lendingRegistry
}

// ObserveCall records one engine call. code is the lending error code, or
// zero for success and -1 for infrastructure failures.
func (m *LendingMetrics) ObserveCall(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		label := "internal"
		if code > 0 {
			label = strconv.Itoa(code)
		}
		m.failures.WithLabelValues(method, label).Inc()
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// SetActive publishes the active offer and loan counts.
func (m *LendingMetrics) SetActive(offers, loans int) {
	if m == nil {
		return
	}
	m.activeOffers.Set(float64(offers))
	m.activeLoans.Set(float64(loans))
}

// RecordLiquidation counts a completed liquidation.
func (m *LendingMetrics) RecordLiquidation() {
	if m != nil {
		m.liquidations.Inc()
	}
}

// RecordRollback counts a discarded mutation.
func (m *LendingMetrics) RecordRollback() {
	if m != nil {
		m.rollbacks.Inc()
	}
}
