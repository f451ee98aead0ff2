package cron

import (
	"context"
	"fmt"

	"github.com/piratar/members-sync/internal/audit"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/metrics"
)

const (
	SyncAuditRetentionJobName = "sync-audit-retention"
	auditKeepRecent           = 50
	auditBatchSize            = 500
)

type SyncAuditRetentionJobParams struct {
	Logger     *logger.Logger
	Pruner     auditPruner
	Metrics    *metrics.CronJobMetrics
	KeepRecent int
	BatchSize  int
}

type auditPruner interface {
	Prune(ctx context.Context, keep, batchSize int) (audit.RetentionReport, error)
}

// NewSyncAuditRetentionJob caps the audit log at the newest KeepRecent rows.
func NewSyncAuditRetentionJob(params SyncAuditRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Pruner == nil {
		return nil, fmt.Errorf("audit pruner required")
	}
	keep := params.KeepRecent
	if keep <= 0 {
		keep = auditKeepRecent
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = auditBatchSize
	}
	return &syncAuditRetentionJob{
		logg:    params.Logger,
		pruner:  params.Pruner,
		metrics: params.Metrics,
		keep:    keep,
		batch:   batch,
	}, nil
}

type syncAuditRetentionJob struct {
	logg    *logger.Logger
	pruner  auditPruner
	metrics *metrics.CronJobMetrics
	keep    int
	batch   int
	// last is the report of the previous Run.
	last audit.RetentionReport
}

func (j *syncAuditRetentionJob) Name() string { return SyncAuditRetentionJobName }

func (j *syncAuditRetentionJob) Run(ctx context.Context) error {
	report, err := j.pruner.Prune(ctx, j.keep, j.batch)
	j.last = report
	if j.metrics != nil {
		j.metrics.AddPurged(j.Name(), report.Deleted)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"keep_recent":  j.keep,
		"batch_size":   j.batch,
		"total_before": report.TotalBefore,
		"rows_deleted": report.Deleted,
		"rows_kept":    report.Kept,
	})
	if err != nil {
		return fmt.Errorf("sync audit retention after %d deletions: %w", report.Deleted, err)
	}
	j.logg.Info(logCtx, "sync audit retention complete")
	return nil
}
