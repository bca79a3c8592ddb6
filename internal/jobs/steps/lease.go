package steps

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

/*
LeaseConfig tunes the per-document write lease that serializes extraction
and indexing across jobs. A job that finds the lease held polls every
PollInterval; a lease older than TTL belongs to a job that died and may be
taken over. The stuck-job sweep releases leases of jobs it fails, so TTL is
only the backstop.
*/
type LeaseConfig struct {
	TTL          time.Duration
	PollInterval time.Duration
}

func (c LeaseConfig) withDefaults() LeaseConfig {
	if c.TTL <= 0 {
		c.TTL = time.Duration(envutil.IntClamp("JOB_TIMEOUT_MINUTES", 60, 1, 24*60)) * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// waitTurn sleeps one poll interval, returning early when the job is told to stop.
func waitTurn(ctx context.Context, interval time.Duration, checkCancel func(ctx context.Context) error) error {
	if checkCancel != nil {
		if err := checkCancel(ctx); err != nil {
			return err
		}
	}
	t := time.NewTimer(interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func releaseLease(ctx context.Context, documents repos.DocumentRepo, log *logger.Logger, documentID, owner uuid.UUID) {
	_, err := documents.UpdateLeased(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, documentID, owner, map[string]interface{}{
		"lease_job_id": nil,
		"lease_at":     nil,
	})
	if err != nil {
		log.Warn("Release document lease failed", "document_id", documentID, "error", err)
	}
}
