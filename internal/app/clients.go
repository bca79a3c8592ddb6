package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/pdfsum-backend/internal/platform/anthropic"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
	"github.com/yungbote/pdfsum-backend/internal/platform/openai"
	"github.com/yungbote/pdfsum-backend/internal/platform/redislock"
	"github.com/yungbote/pdfsum-backend/internal/services"
)

type Clients struct {
	Redis     *goredis.Client
	Locker    redislock.Locker
	Notifier  services.JobNotifier
	Store     objectstore.ReadWriter
	Embedder  llm.Embedder
	Completer llm.Completer

	storeCloser io.Closer
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	// Redis: job locks and the job event channel. Without it a single
	// process can still run with in-memory locks.
	rdb, err := redislock.NewClientFromEnv(ctx)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis: %w", err)
	}
	if rdb != nil {
		c.Redis = rdb
		c.Locker = redislock.NewRedis(rdb, lockPrefix(), log)
		c.Notifier = services.NewRedisJobNotifier(rdb, cfg.NotifyChannel, log)
	} else {
		log.Warn("REDIS_ADDR not set; using process-local job locks")
		c.Locker = redislock.NewLocal()
		c.Notifier = services.NewNopJobNotifier()
	}

	// Object store
	store, closer, err := resolveObjectStore(log, cfg.ObjectStoreDriver)
	if err != nil {
		c.Close()
		return Clients{}, err
	}
	c.Store, c.storeCloser = store, closer

	// OpenAI embeds; completions go to OpenAI unless the model is routed
	// to Anthropic.
	oa, err := openai.NewClient(log, openai.ConfigFromEnv())
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}
	router := llm.NewRouter(oa)
	if strings.TrimSpace(envutil.String("ANTHROPIC_API_KEY", "")) != "" {
		ac, err := anthropic.NewClient(log, anthropic.ConfigFromEnv())
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init anthropic client: %w", err)
		}
		router.Route(cfg.AnthropicModelPrefix, ac)
		log.Info("Anthropic completions enabled", "model_prefix", cfg.AnthropicModelPrefix)
	}
	c.Embedder, c.Completer = llm.Embedder(oa), llm.Completer(router)
	if cfg.LLMRequestsPerSecond > 0 {
		c.Embedder = llm.NewRateLimitedEmbedder(c.Embedder, cfg.LLMRequestsPerSecond, cfg.LLMBurst)
		c.Completer = llm.NewRateLimitedCompleter(c.Completer, cfg.LLMRequestsPerSecond, cfg.LLMBurst)
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.storeCloser != nil {
		_ = c.storeCloser.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

func lockPrefix() string { return envutil.String("REDIS_LOCK_PREFIX", "pdfsum:lock:") }
