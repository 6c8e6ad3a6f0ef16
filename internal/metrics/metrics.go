// Package metrics exports the engine's step-count, token-usage, and
// tool-latency instrumentation as prometheus counters and histograms,
// complementing the otel spans the executor emits for the same operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns one engine's prometheus collectors. Each Engine gets its
// own Collector registered against its own prometheus.Registry (rather
// than the global DefaultRegisterer) so constructing many Engines in a
// process — e.g. one per sub-agent — never collides on metric names.
type Collector struct {
	registry *prometheus.Registry

	steps        *prometheus.CounterVec
	tokens       prometheus.Counter
	toolLatency  *prometheus.HistogramVec
	toolFailures *prometheus.CounterVec
}

// New creates a Collector and registers its collectors on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jimi_agent_steps_total",
			Help: "Number of executor steps run, labeled by agent name.",
		}, []string{"agent"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jimi_agent_tokens_total",
			Help: "Total tokens consumed across LLM calls.",
		}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jimi_tool_call_duration_seconds",
			Help:    "Tool call latency, labeled by tool name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		toolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jimi_tool_call_failures_total",
			Help: "Failed tool calls, labeled by tool name.",
		}, []string{"tool"}),
	}
	reg.MustRegister(c.steps, c.tokens, c.toolLatency, c.toolFailures)
	return c
}

// Registry returns the prometheus.Registry a host can mount behind an
// HTTP handler (e.g. promhttp.HandlerFor) to expose these metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordStep implements executor.MetricsRecorder.
func (c *Collector) RecordStep(agentName string) {
	if c == nil {
		return
	}
	if agentName == "" {
		agentName = "main"
	}
	c.steps.WithLabelValues(agentName).Inc()
}

// RecordTokens implements executor.MetricsRecorder.
func (c *Collector) RecordTokens(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.tokens.Add(float64(n))
}

// RecordToolLatency implements executor.MetricsRecorder.
func (c *Collector) RecordToolLatency(tool string, dur time.Duration, isError bool) {
	if c == nil {
		return
	}
	c.toolLatency.WithLabelValues(tool).Observe(dur.Seconds())
	if isError {
		c.toolFailures.WithLabelValues(tool).Inc()
	}
}
