// Package metrics 暴露 swapd 的 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/swap"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swapd"

// Metrics 持有一个独立的 Registry 及其上注册的全部采集器。
type Metrics struct {
	registry *prometheus.Registry

	swaps          *prometheus.CounterVec
	swapDuration   *prometheus.HistogramVec
	gasFallbacks   prometheus.Counter
	degraded       prometheus.Counter
	quoteMisses    prometheus.Counter
	monitorEvents  prometheus.Counter
	monitorErrors  prometheus.Counter
	activeMonitors prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpErrors     *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// New 创建一组新的采集器。测试中每个用例各自调用，避免全局状态串扰。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		swaps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Swap executions by direction, status and error code",
		}, []string{"direction", "status", "code"}),
		swapDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swap_duration_seconds",
			Help:      "Wall time of a swap from validation to its terminal stage",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"direction", "status"}),
		gasFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gas_estimate_fallbacks_total",
			Help:      "Swaps sent with the fallback gas limit after estimation failed",
		}),
		degraded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_discovery_degraded_total",
			Help:      "Swaps routed through the default router or fee tier",
		}),
		quoteMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_unavailable_total",
			Help:      "Swaps sent without a minimum output because the quoter failed",
		}),
		monitorEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_events_total",
			Help:      "Balance change events emitted by monitors",
		}),
		monitorErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_check_errors_total",
			Help:      "Failed monitor balance reads",
		}),
		activeMonitors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitors_active",
			Help:      "Number of running balance monitors",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed",
		}, []string{"handler", "method", "code"}),
		httpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests resulting in 5xx responses",
		}, []string{"handler", "method"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 Prometheus 文本格式的 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveSwap 实现 swap.Observer。
func (m *Metrics) ObserveSwap(outcome *swap.Outcome, err error, elapsed time.Duration) {
	direction, status, code := "unknown", "failed", ""
	if outcome != nil {
		if outcome.Direction != "" {
			direction = string(outcome.Direction)
		}
		if outcome.Status != "" {
			status = outcome.Status
		}
		for _, note := range outcome.Notes {
			switch note {
			case swap.NoteGasFallback:
				m.gasFallbacks.Inc()
			case swap.NoteDiscoveryDegraded:
				m.degraded.Inc()
			case swap.NoteQuoteUnavailable:
				m.quoteMisses.Inc()
			}
		}
	}
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	m.swaps.WithLabelValues(direction, status, code).Inc()
	m.swapDuration.WithLabelValues(direction, status).Observe(elapsed.Seconds())
}

// ObserveMonitorEvent 统计一次余额变动事件。
func (m *Metrics) ObserveMonitorEvent() {
	m.monitorEvents.Inc()
}

// ObserveMonitorError 统计一次监控读取失败。
func (m *Metrics) ObserveMonitorError() {
	m.monitorErrors.Inc()
}

// SetActiveMonitors 更新运行中的监控数量。
func (m *Metrics) SetActiveMonitors(n int) {
	m.activeMonitors.Set(float64(n))
}

var _ swap.Observer = (*Metrics)(nil)
