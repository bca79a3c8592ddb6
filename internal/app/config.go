package app

import (
	"strings"
	"time"

	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
)

type Config struct {
	LogMode     string
	Environment string
	ServiceName string
	Version     string

	HTTPAddr        string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MetricsAddr     string

	// ObjectStoreDriver is gcs, s3 or memory.
	ObjectStoreDriver string
	TemplatesDir      string
	AutoMigrate       bool

	// LLMRequestsPerSecond caps provider calls per process; 0 disables limiting.
	LLMRequestsPerSecond float64
	LLMBurst             int
	// AnthropicModelPrefix routes completions whose model starts with it to Anthropic.
	AnthropicModelPrefix string

	StuckJobTimeout time.Duration
	NotifyChannel   string
}

func LoadConfig() Config {
	return Config{
		LogMode:              envutil.String("LOG_MODE", "development"),
		Environment:          envutil.String("APP_ENV", "development"),
		ServiceName:          envutil.String("OTEL_SERVICE_NAME", "pdfsum"),
		Version:              envutil.String("APP_VERSION", "dev"),
		HTTPAddr:             ":" + envutil.String("PORT", "8080"),
		ShutdownTimeout:      envutil.Duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		CORSOrigins:          splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),
		MetricsAddr:          envutil.String("METRICS_ADDR", ":9090"),
		ObjectStoreDriver:    strings.ToLower(envutil.String("OBJECT_STORE_DRIVER", "gcs")),
		TemplatesDir:         envutil.String("TEMPLATES_DIR", ""),
		AutoMigrate:          envutil.Bool("DB_AUTO_MIGRATE", true),
		LLMRequestsPerSecond: envutil.Float("LLM_REQUESTS_PER_SECOND", 0),
		LLMBurst:             envutil.IntClamp("LLM_BURST", 4, 1, 100),
		AnthropicModelPrefix: envutil.String("ANTHROPIC_MODEL_PREFIX", "claude"),
		StuckJobTimeout:      time.Duration(envutil.IntClamp("JOB_TIMEOUT_MINUTES", 60, 1, 24*60)) * time.Minute,
		NotifyChannel:        envutil.String("JOB_EVENTS_CHANNEL", "pdfsum:jobs"),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
