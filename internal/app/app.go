package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/pdfsum-backend/internal/data/db"
	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	apihttp "github.com/yungbote/pdfsum-backend/internal/http"
	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/redislock"
	"github.com/yungbote/pdfsum-backend/internal/services"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    repos.Repos
	Clients  Clients
	Services Services

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// New opens the database, migrates it, seeds templates and wires every
// component. Commands that only touch the database use NewStorage.
func New(ctx context.Context) (*App, error) {
	a, err := NewStorage(ctx)
	if err != nil {
		return nil, err
	}
	clients, err := wireClients(ctx, a.Log, a.Cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Clients = clients
	serviceset, err := wireServices(a.DB, a.Log, a.Cfg, a.Repos, clients)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Services = serviceset
	a.Router = wireRouter(a.Log, a.Cfg, wireHandlers(a.Log, a.DB, a.Cfg, serviceset))
	return a, nil
}

// NewStorage sets up logging, tracing, metrics and the database only.
func NewStorage(ctx context.Context) (*App, error) {
	cfg := LoadConfig()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{Log: log, Cfg: cfg}
	shutdown, err := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	}.WithEnv())
	if err != nil {
		log.Warn("Tracing disabled", "error", err)
	}
	a.otelShutdown = shutdown
	observability.Init(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	a.pg, a.DB = pg, pg.DB()
	if cfg.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Repos = wireRepos(a.DB, log)
	return a, nil
}

// Migrate applies the schema and upserts the template catalog.
func (a *App) Migrate(ctx context.Context) error {
	if err := db.AutoMigrateAll(a.DB.WithContext(ctx)); err != nil {
		return fmt.Errorf("postgres automigrate: %w", err)
	}
	if _, err := SeedTemplates(ctx, a.Log, wireRepos(a.DB, a.Log).Templates, a.Cfg.TemplatesDir); err != nil {
		return fmt.Errorf("seed templates: %w", err)
	}
	return nil
}

// StartBackground launches the worker pool, the stuck-job sweeper and the
// metrics collectors.
func (a *App) StartBackground(ctx context.Context, runWorker bool) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	m := observability.Current()
	m.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	m.StartDBCollector(ctx, a.Log, a.DB)
	m.StartJobQueueCollector(ctx, a.Log, a.DB)
	if a.Clients.Redis != nil {
		m.StartRedisCollector(ctx, a.Log, a.Clients.Redis)
	}

	if a.Services.JobSweeper != nil {
		a.Services.JobSweeper.Start(ctx)
	}
	if runWorker && a.Services.JobWorker != nil {
		a.Services.JobWorker.Start(ctx)
	}
}

// Serve blocks until ctx is cancelled and the HTTP server drained.
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
	return (&apihttp.Server{Engine: a.Router}).Run(ctx, a.Cfg.HTTPAddr, a.Cfg.ShutdownTimeout)
}

// WaitWorkers blocks until in-flight jobs return after StartBackground's
// context is cancelled.
func (a *App) WaitWorkers() {
	if a != nil && a.Services.JobWorker != nil {
		a.Services.JobWorker.Wait()
	}
}

// RecoverStuck runs one sweep with the configured timeout.
func (a *App) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = a.Cfg.StuckJobTimeout
	}
	jobs := a.Services.JobService
	if jobs == nil {
		locker, closeLocker, err := a.standaloneLocker(ctx)
		if err != nil {
			return 0, err
		}
		defer closeLocker()
		jobs = services.NewJobService(services.JobServiceDeps{
			DB:         a.DB,
			Log:        a.Log,
			Jobs:       a.Repos.Jobs,
			Documents:  a.Repos.Documents,
			Summaries:  a.Repos.Summaries,
			Templates:  a.Repos.Templates,
			Locker:     locker,
			JobTimeout: a.Cfg.StuckJobTimeout,
		})
	}
	return jobs.RecoverStuck(ctx, olderThan)
}

func (a *App) standaloneLocker(ctx context.Context) (redislock.Locker, func(), error) {
	rdb, err := redislock.NewClientFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis: %w", err)
	}
	if rdb == nil {
		return redislock.NewLocal(), func() {}, nil
	}
	return redislock.NewRedis(rdb, lockPrefix(), a.Log), func() { _ = rdb.Close() }, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
