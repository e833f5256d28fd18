package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func writeMetric(t *testing.T, metric prometheus.Metric) *dto.Metric {
	t.Helper()
	var out dto.Metric
	if err := metric.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return &out
}

func TestModuleOf(t *testing.T) {
	cases := map[string]string{
		"borrower_add":      "borrower",
		"score_getByPeriod": "score",
		"registry_info":     "registry",
		"nonsense":          "unknown",
		"":                  "unknown",
	}
	for method, want := range cases {
		if got := ModuleOf(method); got != want {
			t.Fatalf("ModuleOf(%q) = %q, want %q", method, got, want)
		}
	}
}

func TestRPCObserveCountsErrors(t *testing.T) {
	m := RPC()
	before := testutil.ToFloat64(m.errors.WithLabelValues("member", "member_join", "-32002"))
	m.Observe("member_join", -32002, 5*time.Millisecond)
	m.Observe("member_join", 0, time.Millisecond)
	after := testutil.ToFloat64(m.errors.WithLabelValues("member", "member_join", "-32002"))
	if after-before != 1 {
		t.Fatalf("expected one error recorded, got %v", after-before)
	}
}

func TestRegistryMetrics(t *testing.T) {
	m := Registries()
	m.RecordEvent("borrower.added")
	m.SetEntries("apps", 3)
	m.IncEntries("apps")
	if got := testutil.ToFloat64(m.entries.WithLabelValues("apps")); got != 4 {
		t.Fatalf("unexpected gauge value %v", got)
	}
}

func TestRPCObserveRecordsLatency(t *testing.T) {
	m := RPC()
	observer, ok := m.latency.WithLabelValues("score", "score_getByPeriod").(prometheus.Metric)
	if !ok {
		t.Fatalf("latency observer does not expose a metric")
	}
	before := writeMetric(t, observer).GetHistogram().GetSampleCount()
	m.Observe("score_getByPeriod", 0, 20*time.Millisecond)
	hist := writeMetric(t, observer).GetHistogram()
	if hist.GetSampleCount()-before != 1 {
		t.Fatalf("expected one latency sample, got %d", hist.GetSampleCount()-before)
	}
	if hist.GetSampleSum() < 0.02 {
		t.Fatalf("unexpected sample sum %v", hist.GetSampleSum())
	}
}

func TestThrottleAndEntriesThroughClientModel(t *testing.T) {
	counter := RPC().throttles.WithLabelValues("nonce_capacity")
	before := writeMetric(t, counter).GetCounter().GetValue()
	RPC().RecordThrottle("nonce_capacity")
	if got := writeMetric(t, counter).GetCounter().GetValue() - before; got != 1 {
		t.Fatalf("expected one throttle, got %v", got)
	}

	m := Registries()
	m.SetEntries("scores", 7)
	gauge := writeMetric(t, m.entries.WithLabelValues("scores"))
	if gauge.GetGauge().GetValue() != 7 {
		t.Fatalf("unexpected gauge value %v", gauge.GetGauge().GetValue())
	}
	var registry string
	for _, label := range gauge.GetLabel() {
		if label.GetName() == "registry" {
			registry = label.GetValue()
		}
	}
	if registry != "scores" {
		t.Fatalf("unexpected labels %v", gauge.GetLabel())
	}
}
