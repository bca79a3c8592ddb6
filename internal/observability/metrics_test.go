package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := newMetrics()
	m.ObserveLLMRequest("gpt-4o-mini", "/v1/responses", "200", 2*time.Second, 100, 20)
	m.ObserveJob("summarize", "completed", 90*time.Second)
	m.IncBudgetRejection("completion")
	m.AddCost("gpt-4o-mini", 0.25)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`pdfsum_llm_tokens_total{model="gpt-4o-mini",direction="input"} 100`,
		`pdfsum_job_runs_total{job_type="summarize",status="completed"} 1`,
		`pdfsum_job_duration_seconds_bucket{job_type="summarize",status="completed",le="120"} 1`,
		`pdfsum_job_duration_seconds_bucket{job_type="summarize",status="completed",le="60"} 0`,
		`pdfsum_budget_rejections_total{kind="completion"} 1`,
		`pdfsum_llm_cost_usd_total{model="gpt-4o-mini"} 0.25`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, out)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.ObserveJob("extract", "failed", time.Second)
	m.IncEmbedBatch("ok")
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil WritePrometheus: %v", err)
	}
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"a", "b"}, []string{`x"y`})
	if got != `{a="x\"y",b="unknown"}` {
		t.Fatalf("unexpected label string %s", got)
	}
}
