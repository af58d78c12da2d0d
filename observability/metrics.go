package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type chainMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

var (
	chainMetricsOnce sync.Once
	chainRegistry    *chainMetrics

	walletdMetricsOnce sync.Once
	walletdRegistry    *WalletdMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics
)

// Chain returns the lazily-initialised metrics registry used to record full-node
// API activity.
func Chain() *chainMetrics {
	chainMetricsOnce.Do(func() {
		chainRegistry = &chainMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tron",
				Subsystem: "chain",
				Name:      "requests_total",
				Help:      "Total full-node API requests segmented by endpoint and outcome.",
			}, []string{"endpoint", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tron",
				Subsystem: "chain",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for full-node API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint"}),
			retries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tron",
				Subsystem: "chain",
				Name:      "retries_total",
				Help:      "Count of retried full-node operations segmented by operation.",
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			chainRegistry.requests,
			chainRegistry.latency,
			chainRegistry.retries,
		)
	})
	return chainRegistry
}

// Observe records the outcome of a single full-node request. Outcome should be a
// stable string such as "ok", "unavailable" or "rejected".
func (m *chainMetrics) Observe(endpoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	endpoint = labelOrUnknown(endpoint)
	m.requests.WithLabelValues(endpoint, labelOrUnknown(outcome)).Inc()
	m.latency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordRetry increments the retry counter for the supplied operation.
func (m *chainMetrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(labelOrUnknown(operation)).Inc()
}

// WalletdMetrics bundles collectors describing registry and wallet index health.
type WalletdMetrics struct {
	registrySize    prometheus.Gauge
	refreshes       *prometheus.CounterVec
	refreshFailures *prometheus.CounterVec
	allocations     *prometheus.CounterVec
	nextIndex       prometheus.Gauge
	wallets         *prometheus.CounterVec
}

// Walletd exposes the metrics registry for walletd.
func Walletd() *WalletdMetrics {
	walletdMetricsOnce.Do(func() {
		walletdRegistry = &WalletdMetrics{
			registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tron",
				Subsystem: "walletd",
				Name:      "registry_contracts",
				Help:      "Number of token contracts currently resolvable by the registry.",
			}),
			refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tron",
				Subsystem: "walletd",
				Name:      "registry_refreshes_total",
				Help:      "Count of registry refresh runs segmented by outcome.",
			}, []string{"outcome"}),
			refreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tron",
				Subsystem: "walletd",
				Name:      "registry_refresh_failures_total",
				Help:      "Count of contracts that failed to resolve during a refresh, by symbol.",
			}, []string{"symbol"}),
			allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tron",
				Subsystem: "walletd",
				Name:      "index_allocations_total",
				Help:      "Count of wallet index allocations segmented by outcome.",
			}, []string{"outcome"}),
			nextIndex: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tron",
				Subsystem: "walletd",
				Name:      "next_wallet_index",
				Help:      "Next derivation index the allocator will hand out.",
			}),
			wallets: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tron",
				Subsystem: "walletd",
				Name:      "wallets_created_total",
				Help:      "Count of derived wallets segmented by kind (central or user) and outcome.",
			}, []string{"kind", "outcome"}),
		}
		prometheus.MustRegister(
			walletdRegistry.registrySize,
			walletdRegistry.refreshes,
			walletdRegistry.refreshFailures,
			walletdRegistry.allocations,
			walletdRegistry.nextIndex,
			walletdRegistry.wallets,
		)
	})
	return walletdRegistry
}

// RecordRegistrySize updates the registry size gauge.
func (m *WalletdMetrics) RecordRegistrySize(size int) {
	if m == nil {
		return
	}
	m.registrySize.Set(float64(size))
}

// RecordRefresh records a refresh run and its per-contract failures.
func (m *WalletdMetrics) RecordRefresh(failedSymbols []string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case len(failedSymbols) > 0:
		outcome = "partial"
	}
	m.refreshes.WithLabelValues(outcome).Inc()
	for _, symbol := range failedSymbols {
		m.refreshFailures.WithLabelValues(labelAsset(symbol)).Inc()
	}
}

// RecordAllocation counts an allocation attempt and, on success, publishes the new
// next-index value.
func (m *WalletdMetrics) RecordAllocation(next int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.allocations.WithLabelValues("error").Inc()
		return
	}
	m.allocations.WithLabelValues("success").Inc()
	m.nextIndex.Set(float64(next))
}

// RecordWallet counts a wallet creation.
func (m *WalletdMetrics) RecordWallet(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.wallets.WithLabelValues(labelOrUnknown(kind), outcome).Inc()
}

// HTTPMetrics tracks requests served by the admin API.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// HTTP returns the HTTP server metrics registry.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tron",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed by walletd.",
			}, []string{"route", "method", "status"}),
			durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tron",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.durations)
	})
	return httpRegistry
}

// Observe records a served request.
func (m *HTTPMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = labelOrUnknown(route)
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.durations.WithLabelValues(route, method).Observe(duration.Seconds())
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func labelOrUnknown(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return "unknown"
}
