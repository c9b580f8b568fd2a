package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rulebook"

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the Prometheus collectors of rulebook. A nil *Metrics is
// valid and records nothing.
//
// Metrics:
//   - rulebook_store_operations_total{operation,result}
//   - rulebook_store_operation_duration_seconds{operation}
//   - rulebook_store_rules
//   - rulebook_renders_total{template,result}
//   - rulebook_rules_resolved
//   - rulebook_tool_calls_total{tool,result}
type Metrics struct {
	registry      *prometheus.Registry
	storeOps      *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	storeRules    prometheus.Gauge
	renders       *prometheus.CounterVec
	resolved      prometheus.Histogram
	toolCalls     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them, plus the Go and
// process collectors, on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		storeOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of rule store operations",
			},
			[]string{"operation", "result"},
		),
		storeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of rule store operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8), // 100µs to ~1.6s
			},
			[]string{"operation"},
		),
		storeRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "rules",
				Help:      "Current number of rules in the store",
			},
		),
		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Total number of artifact renders",
			},
			[]string{"template", "result"},
		),
		resolved: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rules_resolved",
				Help:      "Number of rules selected per render",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mcp",
				Name:      "tool_calls_total",
				Help:      "Total number of MCP tool calls",
			},
			[]string{"tool", "result"},
		),
	}

	m.registry.MustRegister(
		m.storeOps,
		m.storeDuration,
		m.storeRules,
		m.renders,
		m.resolved,
		m.toolCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStoreOp records one store operation.
func (m *Metrics) ObserveStoreOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}

	m.storeOps.WithLabelValues(op, result(err)).Inc()
	m.storeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SetStoreRules records the number of stored rules.
func (m *Metrics) SetStoreRules(n int) {
	if m == nil {
		return
	}

	m.storeRules.Set(float64(n))
}

// ObserveRender records one artifact render and its rule count.
func (m *Metrics) ObserveRender(template string, rules int, err error) {
	if m == nil {
		return
	}

	m.renders.WithLabelValues(template, result(err)).Inc()
	if err == nil {
		m.resolved.Observe(float64(rules))
	}
}

// ObserveToolCall records one MCP tool call.
func (m *Metrics) ObserveToolCall(tool string, err error) {
	if m == nil {
		return
	}

	m.toolCalls.WithLabelValues(tool, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}

	return ResultOK
}
