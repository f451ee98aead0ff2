package syncqueue

import (
	"context"
	stdErrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/pagination"
)

const (
	defaultStatusSamples = 10
	maxStatusSamples     = 100
	defaultChangesLimit  = 500
	maxChangesLimit      = 5000
	defaultChangesWindow = 24 * time.Hour
)

// Service is the operator and sync-client view of the queue.
type Service interface {
	Status(ctx context.Context, samples int) (*StatusReport, error)
	ChangesSince(ctx context.Context, since *time.Time, limit int) (*ChangesResult, error)
	MarkSynced(ctx context.Context, ids []int64) (int64, error)
	MarkPending(ctx context.Context, ids []int64, resetRetries bool) (int64, error)
	RetryAllFailed(ctx context.Context, resetRetries bool) (int64, error)
	List(ctx context.Context, req ListRequest) (*ListResult, error)
	Get(ctx context.Context, id int64) (*models.SyncQueueEntry, error)
}

// InboundRunLookup finds the last completed inbound run, which anchors the
// default window of ChangesSince.
type InboundRunLookup interface {
	LastCompletedAt(ctx context.Context, kind enums.SyncAuditKind) (*time.Time, error)
}

// StatusReport is the read-only health view of the queue.
type StatusReport struct {
	Pending         int64         `json:"pending_count"`
	Failed          int64         `json:"failed_count"`
	Synced          int64         `json:"synced_count"`
	OldestPendingAt *time.Time    `json:"oldest_pending_at"`
	RecentPending   []EntrySample `json:"recent_pending"`
	RecentFailed    []EntrySample `json:"recent_failed"`
}

// EntrySample is one row of the status report.
type EntrySample struct {
	ID           int64            `json:"id"`
	RecordKey    string           `json:"record_key"`
	Action       enums.SyncAction `json:"action"`
	CreatedAt    time.Time        `json:"created_at"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	RetryCount   int              `json:"retry_count,omitempty"`
}

// ChangesResult is the payload of GET /api/sync/changes.
type ChangesResult struct {
	Since   time.Time               `json:"since"`
	Changes []models.SyncQueueEntry `json:"changes"`
	Count   int                     `json:"count"`
}

// ListRequest filters the admin listing. Cursor is the opaque token returned
// by a previous page.
type ListRequest struct {
	Status    string
	RecordKey string
	From      *time.Time
	To        *time.Time
	Limit     int
	Cursor    string
}

type ListResult struct {
	Items  []models.SyncQueueEntry `json:"items"`
	Cursor string                  `json:"cursor"`
}

type service struct {
	repo Repository
	runs InboundRunLookup
	now  func() time.Time
}

// ServiceParams wires the queue service.
type ServiceParams struct {
	Repo Repository
	Runs InboundRunLookup
}

// NewService validates dependencies. Runs may be nil, in which case the
// default changes window is the last 24 hours.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sync queue repository required")
	}
	return &service{
		repo: params.Repo,
		runs: params.Runs,
		now:  time.Now,
	}, nil
}

func (s *service) Status(ctx context.Context, samples int) (*StatusReport, error) {
	switch {
	case samples <= 0:
		samples = defaultStatusSamples
	case samples > maxStatusSamples:
		samples = maxStatusSamples
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count sync queue")
	}
	oldest, err := s.repo.OldestPending(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "oldest pending entry")
	}
	pending, err := s.repo.Recent(ctx, enums.SyncStatusPending, samples)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recent pending entries")
	}
	failed, err := s.repo.Recent(ctx, enums.SyncStatusFailed, samples)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recent failed entries")
	}

	report := &StatusReport{
		Pending:         counts[enums.SyncStatusPending],
		Failed:          counts[enums.SyncStatusFailed],
		Synced:          counts[enums.SyncStatusSynced],
		OldestPendingAt: oldest,
		RecentPending:   make([]EntrySample, 0, len(pending)),
		RecentFailed:    make([]EntrySample, 0, len(failed)),
	}
	for _, entry := range pending {
		report.RecentPending = append(report.RecentPending, EntrySample{
			ID:        entry.ID,
			RecordKey: entry.RecordKey,
			Action:    entry.Action,
			CreatedAt: entry.CreatedAt,
		})
	}
	for _, entry := range failed {
		report.RecentFailed = append(report.RecentFailed, EntrySample{
			ID:           entry.ID,
			RecordKey:    entry.RecordKey,
			Action:       entry.Action,
			CreatedAt:    entry.CreatedAt,
			ErrorMessage: entry.ErrorMessage,
			RetryCount:   entry.RetryCount,
		})
	}
	return report, nil
}

func (s *service) ChangesSince(ctx context.Context, since *time.Time, limit int) (*ChangesResult, error) {
	switch {
	case limit <= 0:
		limit = defaultChangesLimit
	case limit > maxChangesLimit:
		limit = maxChangesLimit
	}

	from, err := s.resolveSince(ctx, since)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.ListPendingSince(ctx, from, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending changes")
	}
	return &ChangesResult{Since: from, Changes: rows, Count: len(rows)}, nil
}

// resolveSince picks the lower bound of a changes query. Without an explicit
// since it starts at the last completed inbound run (or the default window),
// pulled back to the oldest pending entry so no pending change is hidden.
func (s *service) resolveSince(ctx context.Context, since *time.Time) (time.Time, error) {
	if since != nil {
		return since.UTC(), nil
	}
	from, err := s.anchor(ctx)
	if err != nil {
		return time.Time{}, err
	}
	oldest, err := s.repo.OldestPending(ctx)
	if err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "oldest pending change")
	}
	if oldest != nil && oldest.Before(from) {
		from = oldest.UTC()
	}
	return from, nil
}

func (s *service) anchor(ctx context.Context) (time.Time, error) {
	if s.runs != nil {
		last, err := s.runs.LastCompletedAt(ctx, enums.SyncAuditKindInbound)
		if err != nil {
			return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "last inbound run")
		}
		if last != nil {
			return last.UTC(), nil
		}
	}
	return s.now().UTC().Add(-defaultChangesWindow), nil
}

func (s *service) MarkSynced(ctx context.Context, ids []int64) (int64, error) {
	if err := validateIDs(ids); err != nil {
		return 0, err
	}
	count, err := s.repo.MarkSynced(ctx, ids, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark entries synced")
	}
	return count, nil
}

func (s *service) MarkPending(ctx context.Context, ids []int64, resetRetries bool) (int64, error) {
	if err := validateIDs(ids); err != nil {
		return 0, err
	}
	count, err := s.repo.MarkPending(ctx, ids, resetRetries)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark entries pending")
	}
	return count, nil
}

func (s *service) RetryAllFailed(ctx context.Context, resetRetries bool) (int64, error) {
	count, err := s.repo.MarkAllFailedPending(ctx, resetRetries)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue failed entries")
	}
	return count, nil
}

func (s *service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	params := ListParams{
		RecordKey: req.RecordKey,
		From:      req.From,
		To:        req.To,
		Limit:     req.Limit,
	}
	if req.Status != "" {
		status, err := enums.ParseSyncStatus(req.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		params.Status = status
	}
	if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	if req.Cursor != "" {
		cursor, err := pagination.ParseCursor(req.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		params.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sync entries")
	}
	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) Get(ctx context.Context, id int64) (*models.SyncQueueEntry, error) {
	if id <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry id must be positive")
	}
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sync entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sync entry")
	}
	return entry, nil
}

func validateIDs(ids []int64) error {
	if len(ids) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one entry id required")
	}
	for _, id := range ids {
		if id <= 0 {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid entry id %d", id)
		}
	}
	return nil
}
