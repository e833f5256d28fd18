package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type registryMetrics struct {
	events  *prometheus.CounterVec
	entries *prometheus.GaugeVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	registryMetricsOnce sync.Once
	registryRegistry    *registryMetrics
)

// RPC returns the lazily-initialised metrics recorded by the JSON-RPC server.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lend",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lend",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lend",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lend",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Requests rejected by rate limiting or replay protection.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records one handled request. A zero code means success.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	module := ModuleOf(method)
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, strconv.Itoa(code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. Reasons should be stable strings
// such as "rate_limit" or "replay".
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Registries returns the metrics tracking registry events and sizes.
func Registries() *registryMetrics {
	registryMetricsOnce.Do(func() {
		registryRegistry = &registryMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lend",
				Subsystem: "registry",
				Name:      "events_total",
				Help:      "Count of registry events segmented by type.",
			}, []string{"type"}),
			entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lend",
				Subsystem: "registry",
				Name:      "entries",
				Help:      "Number of entries held by each registry.",
			}, []string{"registry"}),
		}
		prometheus.MustRegister(registryRegistry.events, registryRegistry.entries)
	})
	return registryRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *registryMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.events.WithLabelValues(normalized).Inc()
}

// SetEntries publishes the current size of a registry.
func (m *registryMetrics) SetEntries(registry string, size uint64) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(registry).Set(float64(size))
}

// IncEntries bumps the size of a registry after a successful insert.
func (m *registryMetrics) IncEntries(registry string) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(registry).Inc()
}

// ModuleOf returns the namespace of a JSON-RPC method name such as
// "borrower_add".
func ModuleOf(method string) string {
	module, _, found := strings.Cut(method, "_")
	if !found || module == "" {
		return "unknown"
	}
	return module
}
