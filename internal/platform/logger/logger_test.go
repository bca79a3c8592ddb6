package logger

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/pdfsum-backend/internal/platform/ctxutil"
)

func observed(p *policy) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar(), policy: p}, logs
}

func TestPolicyValue(t *testing.T) {
	p := &policy{redact: true, clipAt: 8}
	cases := []struct {
		key  string
		val  interface{}
		want interface{}
	}{
		{"openai_api_key", "sk-123", "[REDACTED]"},
		{"refresh_token", "abc", "[REDACTED]"},
		{"tokens_in", 42, 42},
		{"output_tokens", 7, 7},
		{"document_id", "d1", "d1"},
		{"text", "short", "short"},
		{"text", "0123456789", "01234567...(10 chars)"},
		{"section_prompt", "0123456789", "01234567...(10 chars)"},
		{"message", "0123456789", "0123456789"},
	}
	for _, tc := range cases {
		if got := p.value(tc.key, tc.val); got != tc.want {
			t.Fatalf("value(%q): got %v want %v", tc.key, got, tc.want)
		}
	}
}

func TestHashUserID(t *testing.T) {
	p := &policy{redact: true, salt: "pepper"}
	got, ok := p.value("owner_user_id", "7f1c").(string)
	if !ok || len(got) != len("hash:")+12 {
		t.Fatalf("expected hashed user id, got %v", got)
	}
	if again := p.value("owner_user_id", "7f1c"); again != got {
		t.Fatalf("hash not stable: %v vs %v", got, again)
	}
	unsalted := (&policy{redact: true}).value("owner_user_id", "7f1c")
	if unsalted == got {
		t.Fatalf("salt ignored")
	}
}

func TestRedactionDisabledPassesThrough(t *testing.T) {
	p := &policy{}
	kv := []interface{}{"api_key", "sk-1", "user_id", "u"}
	out := p.apply(kv)
	if out[1] != "sk-1" || out[3] != "u" {
		t.Fatalf("expected passthrough, got %v", out)
	}
}

func TestWithContextAddsRequestFields(t *testing.T) {
	log, logs := observed(&policy{redact: true})
	uid := uuid.New()
	ctx := ctxutil.With(context.Background(), &ctxutil.Request{TraceID: "t-1", RequestID: "r-1", UserID: uid})

	log.WithContext(ctx).Info("hello", "api_key", "sk-secret")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "t-1" || fields["request_id"] != "r-1" {
		t.Fatalf("missing request fields: %v", fields)
	}
	if s, _ := fields["user_id"].(string); !strings.HasPrefix(s, "hash:") {
		t.Fatalf("user_id not hashed: %v", fields["user_id"])
	}
	if fields["api_key"] != "[REDACTED]" {
		t.Fatalf("api_key not redacted: %v", fields["api_key"])
	}
}

func TestWithContextWithoutRequest(t *testing.T) {
	log, _ := observed(&policy{})
	if got := log.WithContext(context.Background()); got != log {
		t.Fatalf("expected same logger without request data")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := NewWithOptions(Options{Mode: "dev", Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	l, err := NewWithOptions(Options{Mode: "production", Level: "warn"})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	l.Sync()
}
