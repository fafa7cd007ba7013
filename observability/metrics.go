package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type marketMetrics struct {
	listingsCreated  prometheus.Counter
	purchasesOpened  prometheus.Counter
	settlements      prometheus.Counter
	refunds          prometheus.Counter
	transferFailures *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	marketMetricsOnce sync.Once
	marketRegistry    *marketMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record JSON-RPC
// handler activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cipherbay",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cipherbay",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cipherbay",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of a single JSON-RPC request. A zero code means
// the request succeeded.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method = strings.TrimSpace(method); method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// MarketMetrics returns the registry tracking marketplace settlement activity.
func MarketMetrics() *marketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &marketMetrics{
			listingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "cipherbay",
				Subsystem: "market",
				Name:      "listings_created_total",
				Help:      "Count of listings created.",
			}),
			purchasesOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "cipherbay",
				Subsystem: "market",
				Name:      "purchases_opened_total",
				Help:      "Count of purchases that escrowed funds.",
			}),
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "cipherbay",
				Subsystem: "market",
				Name:      "settlements_total",
				Help:      "Count of accepted purchases settled against their listing.",
			}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "cipherbay",
				Subsystem: "market",
				Name:      "refunds_total",
				Help:      "Count of escrow refunds from cancellations and cascades.",
			}),
			transferFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cipherbay",
				Subsystem: "market",
				Name:      "transfer_failures_total",
				Help:      "Count of aborted operations segmented by operation name.",
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			marketRegistry.listingsCreated,
			marketRegistry.purchasesOpened,
			marketRegistry.settlements,
			marketRegistry.refunds,
			marketRegistry.transferFailures,
		)
	})
	return marketRegistry
}

func (m *marketMetrics) RecordListingCreated() {
	if m == nil {
		return
	}
	m.listingsCreated.Inc()
}

func (m *marketMetrics) RecordPurchaseOpened() {
	if m == nil {
		return
	}
	m.purchasesOpened.Inc()
}

// RecordSettlement counts one accepted purchase plus the cascade refunds it
// triggered.
func (m *marketMetrics) RecordSettlement(refunds int) {
	if m == nil {
		return
	}
	m.settlements.Inc()
	if refunds > 0 {
		m.refunds.Add(float64(refunds))
	}
}

func (m *marketMetrics) RecordRefund() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

func (m *marketMetrics) RecordTransferFailure(operation string) {
	if m == nil {
		return
	}
	if operation = strings.TrimSpace(operation); operation == "" {
		operation = "unknown"
	}
	m.transferFailures.WithLabelValues(operation).Inc()
}
