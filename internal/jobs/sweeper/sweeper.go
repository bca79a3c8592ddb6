package sweeper

import (
	"context"
	"time"

	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

// Recoverer force-fails jobs that made no progress for longer than olderThan.
type Recoverer interface {
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

type Config struct {
	Timeout  time.Duration
	Interval time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Timeout:  time.Duration(envutil.IntClamp("JOB_TIMEOUT_MINUTES", 60, 1, 24*60)) * time.Minute,
		Interval: envutil.Duration("JOB_SWEEP_INTERVAL", time.Minute),
	}
}

type Sweeper struct {
	log *logger.Logger
	rec Recoverer
	cfg Config
}

func New(rec Recoverer, baseLog *logger.Logger, cfg Config) *Sweeper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Sweeper{log: baseLog.With("component", "JobSweeper"), rec: rec, cfg: cfg}
}

// Start runs the sweep loop in the background until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info("Starting job sweeper", "timeout", s.cfg.Timeout.String(), "interval", s.cfg.Interval.String())
	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					s.log.Warn("Sweep failed", "error", err)
				}
			}
		}
	}()
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	return s.rec.RecoverStuck(ctx, s.cfg.Timeout)
}
