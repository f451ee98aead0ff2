package audit

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/pagination"
)

// Run summarizes one reconcile pass or inbound batch.
type Run struct {
	Kind      enums.SyncAuditKind
	StartedAt time.Time
	Processed int
	Succeeded int
	Failed    int
	Conflicts int
	Detail    any
}

// RetentionReport is the outcome of one keep-newest sweep.
type RetentionReport struct {
	TotalBefore int64 `json:"total_before"`
	Deleted     int64 `json:"deleted"`
	Kept        int64 `json:"kept"`
}

// ListResult wraps a page of runs.
type ListResult struct {
	Items  []models.SyncAuditLog `json:"items"`
	Cursor string                `json:"cursor"`
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "audit repository required")
	}
	return &Service{repo: repo, now: time.Now}, nil
}

// Record appends one run. Failed plus conflicting items decide whether the
// run is completed, partial or failed.
func (s *Service) Record(ctx context.Context, run Run) (*models.SyncAuditLog, error) {
	if !run.Kind.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid audit kind %q", run.Kind)
	}
	now := s.now().UTC()
	started := run.StartedAt.UTC()
	if run.StartedAt.IsZero() {
		started = now
	}

	row := &models.SyncAuditLog{
		Kind:        run.Kind,
		Status:      enums.RunStatusFor(run.Succeeded, run.Failed+run.Conflicts),
		Processed:   run.Processed,
		Succeeded:   run.Succeeded,
		Failed:      run.Failed,
		Conflicts:   run.Conflicts,
		StartedAt:   started,
		CompletedAt: &now,
		CreatedAt:   now,
	}
	if run.Detail != nil {
		raw, err := json.Marshal(run.Detail)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode audit detail")
		}
		row.Detail = datatypes.JSON(raw)
	}
	if err := s.repo.Insert(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert audit row")
	}
	return row, nil
}

// LastCompletedAt satisfies the queue service's inbound anchor lookup.
func (s *Service) LastCompletedAt(ctx context.Context, kind enums.SyncAuditKind) (*time.Time, error) {
	return s.repo.LastCompletedAt(ctx, kind)
}

func (s *Service) List(ctx context.Context, kind string, limit int, cursor string) (*ListResult, error) {
	params := ListParams{Limit: limit}
	if kind != "" {
		parsed, err := enums.ParseSyncAuditKind(kind)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind filter")
		}
		params.Kind = parsed
	}
	if cursor != "" {
		parsed, err := pagination.ParseCursor(cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		params.Cursor = parsed
	}

	rows, next, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit rows")
	}
	out := &ListResult{Items: rows}
	if next != nil {
		out.Cursor = pagination.EncodeCursor(*next)
	}
	return out, nil
}

// Prune keeps the keep newest rows and deletes the rest in batches. Batches
// already deleted stay deleted when a later batch fails; the error is
// returned together with the partial report so the next run resumes.
func (s *Service) Prune(ctx context.Context, keep, batchSize int) (RetentionReport, error) {
	if keep < 0 {
		keep = 0
	}
	if batchSize <= 0 {
		return RetentionReport{}, pkgerrors.New(pkgerrors.CodeValidation, "batch size must be positive")
	}

	total, err := s.repo.Count(ctx)
	if err != nil {
		return RetentionReport{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count audit rows")
	}
	report := RetentionReport{TotalBefore: total, Kept: total}

	for {
		if err := ctx.Err(); err != nil {
			return report, pkgerrors.Wrap(pkgerrors.CodeCapacity, err, "audit prune interrupted")
		}
		ids, err := s.repo.IDsBeyondNewest(ctx, keep, batchSize)
		if err != nil {
			return report, pkgerrors.Wrap(pkgerrors.CodeCapacity, err, "select audit batch")
		}
		if len(ids) == 0 {
			return report, nil
		}
		deleted, err := s.repo.DeleteIDs(ctx, ids)
		if err != nil {
			return report, pkgerrors.Wrap(pkgerrors.CodeCapacity, err, "delete audit batch")
		}
		report.Deleted += deleted
		report.Kept = total - report.Deleted
		if deleted == 0 {
			return report, nil
		}
	}
}
