package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/eduflow-sync/internal/syncer"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

type syncRunner interface {
	SyncOrganizations(ctx context.Context, orgIDs []string) []syncer.Report
}

type SyncJobParams struct {
	Logger        *logger.Logger
	Syncer        syncRunner
	Organizations []string
}

// NewSyncJob runs a full sync pass for every configured organization.
func NewSyncJob(params SyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("sync manager required")
	}
	if len(params.Organizations) == 0 {
		return nil, fmt.Errorf("at least one organization required")
	}
	orgs := make([]string, len(params.Organizations))
	copy(orgs, params.Organizations)
	return &syncJob{logg: params.Logger, syncer: params.Syncer, orgs: orgs}, nil
}

type syncJob struct {
	logg   *logger.Logger
	syncer syncRunner
	orgs   []string
}

func (j *syncJob) Name() string { return "outbox-sync" }

// Run fails when any organization reports a remote failure so the job
// metrics reflect it. Offline and busy skips are not failures.
func (j *syncJob) Run(ctx context.Context) error {
	reports := j.syncer.SyncOrganizations(ctx, j.orgs)
	var failed, skipped, pushed int
	for _, report := range reports {
		pushed += report.Pushed
		switch {
		case report.Skipped != syncer.SkipNone:
			skipped++
		case report.Failed():
			failed++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"organizations": len(j.orgs),
		"pushed":        pushed,
		"skipped":       skipped,
		"failed":        failed,
	})
	j.logg.Info(logCtx, "sync cycle complete")
	if failed > 0 {
		return fmt.Errorf("%d of %d organizations failed to sync", failed, len(reports))
	}
	return nil
}
