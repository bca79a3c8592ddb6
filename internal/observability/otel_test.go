package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestParseHeaders(t *testing.T) {
	got := parseHeaders(" api-key = abc ,broken, =x,team=docs")
	if len(got) != 2 || got["api-key"] != "abc" || got["team"] != "docs" {
		t.Fatalf("unexpected headers: %v", got)
	}
	if parseHeaders("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestInitOTelDisabledIsNoop(t *testing.T) {
	shutdown, err := InitOTel(context.Background(), nil, OtelConfig{ServiceName: "pdfsum"})
	if err != nil || shutdown == nil {
		t.Fatalf("shutdown=%p err=%v", shutdown, err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestWithEnvClampsSampleRatio(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLER_RATIO", "7")
	cfg := OtelConfig{}.WithEnv()
	if !cfg.Enabled || cfg.SampleRatio != 1 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := tp.Tracer("test").Start(context.Background(), "summarizer.section")
	EndSpan(span, errors.New("provider down"))

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error || len(ended[0].Events()) == 0 {
		t.Fatalf("error not recorded: %+v", ended[0].Status())
	}
}
