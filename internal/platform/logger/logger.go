package logger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yungbote/pdfsum-backend/internal/platform/ctxutil"
)

// Logger wraps a zap SugaredLogger with key-based redaction. Document text
// and prompts are clipped so a log line never carries a whole PDF.
type Logger struct {
	SugaredLogger *zap.SugaredLogger
	policy        *policy
}

type Options struct {
	// Mode "prod"/"production" emits JSON; anything else is console output.
	Mode     string
	Level    string
	Redact   bool
	HashSalt string
	// ClipAt bounds text-valued fields (text, prompt, excerpt). 0 disables.
	ClipAt int
}

// OptionsFromEnv reads LOG_LEVEL, LOG_REDACTION_ENABLED, LOG_HASH_SALT and
// LOG_CLIP_CHARS.
func OptionsFromEnv(mode string) Options {
	o := Options{
		Mode:     mode,
		Level:    strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Redact:   true,
		HashSalt: strings.TrimSpace(os.Getenv("LOG_HASH_SALT")),
		ClipAt:   240,
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
	case "0", "false", "no", "off":
		o.Redact = false
	}
	if raw := strings.TrimSpace(os.Getenv("LOG_CLIP_CHARS")); raw != "" {
		var n int
		if _, err := fmt.Sscanf(raw, "%d", &n); err == nil && n >= 0 {
			o.ClipAt = n
		}
	}
	return o
}

func New(mode string) (*Logger, error) {
	return NewWithOptions(OptionsFromEnv(mode))
}

func NewWithOptions(o Options) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(o.Mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	lvl := zapcore.DebugLevel
	if o.Level != "" {
		if err := lvl.Set(strings.ToLower(o.Level)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", o.Level, err)
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{
		SugaredLogger: z.Sugar(),
		policy:        &policy{redact: o.Redact, salt: o.HashSalt, clipAt: o.ClipAt},
	}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), policy: &policy{}}
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, l.policy.apply(keysAndValues)...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, l.policy.apply(keysAndValues)...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, l.policy.apply(keysAndValues)...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, l.policy.apply(keysAndValues)...)
}
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Fatalw(msg, l.policy.apply(keysAndValues)...)
}

func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(l.policy.apply(keysAndValues)...),
		policy:        l.policy,
	}
}

// WithContext attaches the request's trace, request and caller ids.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	req := ctxutil.From(ctx)
	if req == nil {
		return l
	}
	kv := make([]interface{}, 0, 6)
	if req.TraceID != "" {
		kv = append(kv, "trace_id", req.TraceID)
	}
	if req.RequestID != "" {
		kv = append(kv, "request_id", req.RequestID)
	}
	if req.UserID != uuid.Nil {
		kv = append(kv, "user_id", req.UserID.String())
	}
	if len(kv) == 0 {
		return l
	}
	return l.With(kv...)
}

type policy struct {
	redact bool
	salt   string
	clipAt int
}

func (p *policy) apply(kv []interface{}) []interface{} {
	if p == nil || len(kv) == 0 || (!p.redact && p.clipAt == 0) {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := toString(kv[i])
		out = append(out, key, p.value(strings.ToLower(strings.TrimSpace(key)), kv[i+1]))
	}
	return out
}

func (p *policy) value(key string, val interface{}) interface{} {
	if key == "" {
		return val
	}
	if p.redact {
		if isSecretKey(key) {
			return "[REDACTED]"
		}
		if strings.HasSuffix(key, "user_id") {
			return p.hash(val)
		}
	}
	if p.clipAt > 0 && isTextKey(key) {
		if s, ok := val.(string); ok && len(s) > p.clipAt {
			return fmt.Sprintf("%s...(%d chars)", s[:p.clipAt], len(s))
		}
	}
	if m, ok := val.(map[string]interface{}); ok {
		out := make(map[string]interface{}, len(m))
		for k, inner := range m {
			out[k] = p.value(strings.ToLower(strings.TrimSpace(k)), inner)
		}
		return out
	}
	return val
}

// Token counters (tokens_in, output_tokens) are usage numbers, not credentials.
func isSecretKey(key string) bool {
	if strings.HasPrefix(key, "tokens_") || strings.HasSuffix(key, "_tokens") {
		return false
	}
	for _, frag := range []string{"token", "authorization", "password", "secret", "api_key", "apikey", "email", "credentials"} {
		if strings.Contains(key, frag) {
			return true
		}
	}
	return false
}

func isTextKey(key string) bool {
	switch key {
	case "text", "prompt", "excerpt", "content", "response", "raw":
		return true
	}
	return strings.HasSuffix(key, "_text") || strings.HasSuffix(key, "_prompt")
}

func (p *policy) hash(val interface{}) string {
	raw := toString(val)
	if raw == "" {
		return ""
	}
	h := sha256.New()
	if p.salt != "" {
		_, _ = h.Write([]byte(p.salt))
	}
	_, _ = h.Write([]byte(raw))
	return "hash:" + hex.EncodeToString(h.Sum(nil))[:12]
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
