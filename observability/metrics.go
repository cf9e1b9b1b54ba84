package observability

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
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

	fundMetricsOnce sync.Once
	fundRegistry    *FundMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "traderchain",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "traderchain",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "traderchain",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "traderchain",
				Subsystem: "api",
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
// reason. Reasons should be stable strings such as "rate_limit".
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

// FundMetrics tracks fund engine operations and sampled valuations.
type FundMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	nav        *prometheus.GaugeVec
	sharePrice *prometheus.GaugeVec
	halted     *prometheus.GaugeVec
	sampleErrs *prometheus.CounterVec
}

// Funds returns the singleton fund metrics registry.
func Funds() *FundMetrics {
	fundMetricsOnce.Do(func() {
		fundRegistry = &FundMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "traderchain",
				Subsystem: "fund",
				Name:      "operations_total",
				Help:      "Count of fund operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "traderchain",
				Subsystem: "fund",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for fund operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			nav: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "traderchain",
				Subsystem: "fund",
				Name:      "nav",
				Help:      "Last sampled net asset value in base-currency sub-units.",
			}, []string{"fund", "base"}),
			sharePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "traderchain",
				Subsystem: "fund",
				Name:      "share_price",
				Help:      "Last sampled share price in base-currency sub-units.",
			}, []string{"fund", "base"}),
			halted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "traderchain",
				Subsystem: "fund",
				Name:      "halted",
				Help:      "Set to 1 while a fund is halted.",
			}, []string{"fund"}),
			sampleErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "traderchain",
				Subsystem: "fund",
				Name:      "sample_errors_total",
				Help:      "Count of NAV sampling failures segmented by fund.",
			}, []string{"fund"}),
		}
		prometheus.MustRegister(
			fundRegistry.operations,
			fundRegistry.latency,
			fundRegistry.nav,
			fundRegistry.sharePrice,
			fundRegistry.halted,
			fundRegistry.sampleErrs,
		)
	})
	return fundRegistry
}

// Observe records the execution of a fund operation.
func (m *FundMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSample publishes a valuation snapshot for the fund.
func (m *FundMetrics) RecordSample(fundID uint64, base string, nav, sharePrice *uint256.Int, halted bool) {
	if m == nil {
		return
	}
	id := strconv.FormatUint(fundID, 10)
	asset := labelAsset(base)
	m.nav.WithLabelValues(id, asset).Set(uintToFloat(nav))
	m.sharePrice.WithLabelValues(id, asset).Set(uintToFloat(sharePrice))
	flag := 0.0
	if halted {
		flag = 1
	}
	m.halted.WithLabelValues(id).Set(flag)
}

// RecordSampleError increments the sampling failure counter for the fund.
func (m *FundMetrics) RecordSampleError(fundID uint64) {
	if m == nil {
		return
	}
	m.sampleErrs.WithLabelValues(strconv.FormatUint(fundID, 10)).Inc()
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func uintToFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value.ToBig()).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
