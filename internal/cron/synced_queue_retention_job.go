package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/metrics"
)

const (
	SyncedQueueRetentionJobName = "synced-queue-retention"
	syncedRetentionDays         = 30
)

type SyncedQueueRetentionJobParams struct {
	Logger     *logger.Logger
	Repository syncedQueueRetentionRepo
	Metrics    *metrics.CronJobMetrics
	Retention  int
}

type syncedQueueRetentionRepo interface {
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewSyncedQueueRetentionJob deletes synced queue entries older than the
// retention window. Pending and failed entries are never selected.
func NewSyncedQueueRetentionJob(params SyncedQueueRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("sync queue repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = syncedRetentionDays
	}
	return &syncedQueueRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		metrics:   params.Metrics,
		retention: retention,
		now:       time.Now,
	}, nil
}

type syncedQueueRetentionJob struct {
	logg      *logger.Logger
	repo      syncedQueueRetentionRepo
	metrics   *metrics.CronJobMetrics
	retention int
	now       func() time.Time
}

func (j *syncedQueueRetentionJob) Name() string { return SyncedQueueRetentionJobName }

func (j *syncedQueueRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.repo.DeleteSyncedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("synced queue retention: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddPurged(j.Name(), deleted)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "synced queue retention complete")
	return nil
}
