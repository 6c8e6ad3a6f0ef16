package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecordStepIncrementsCounter(t *testing.T) {
	c := New()
	c.RecordStep("coder")
	c.RecordStep("coder")
	c.RecordStep("")

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := metricValue(t, families, "jimi_agent_steps_total", map[string]string{"agent": "coder"})
	if got != 2 {
		t.Fatalf("expected 2 steps recorded for coder, got %v", got)
	}
}

func TestRecordToolLatencyObservesAndCountsFailures(t *testing.T) {
	c := New()
	c.RecordToolLatency("shell", 10*time.Millisecond, false)
	c.RecordToolLatency("shell", 20*time.Millisecond, true)

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	failures := metricValue(t, families, "jimi_tool_call_failures_total", map[string]string{"tool": "shell"})
	if failures != 1 {
		t.Fatalf("expected 1 failure recorded, got %v", failures)
	}
}

func TestNilCollectorMethodsAreNoops(t *testing.T) {
	var c *Collector
	c.RecordStep("x")
	c.RecordTokens(5)
	c.RecordToolLatency("x", time.Second, true)
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}
