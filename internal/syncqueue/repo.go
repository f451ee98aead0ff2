package syncqueue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	"github.com/piratar/members-sync/pkg/pagination"
)

// Repository exposes persistence helpers for the member sync queue. Every
// status change is a single conditional UPDATE on one row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, entry *models.SyncQueueEntry) error
	Get(ctx context.Context, id int64) (*models.SyncQueueEntry, error)
	ListEligible(ctx context.Context, params EligibleParams) ([]models.SyncQueueEntry, error)
	Claim(ctx context.Context, id int64, token uuid.UUID, now time.Time, params EligibleParams) (bool, error)
	FinalizeSynced(ctx context.Context, id int64, token uuid.UUID, now time.Time) (bool, error)
	FinalizeFailed(ctx context.Context, id int64, token uuid.UUID, now time.Time, failure Failure) (bool, error)
	HasNewer(ctx context.Context, recordKey string, id int64) (bool, error)
	LatestIDs(ctx context.Context, recordKeys []string) (map[string]int64, error)
	Exists(ctx context.Context, id int64) (bool, error)
	ListPendingSince(ctx context.Context, since time.Time, limit int) ([]models.SyncQueueEntry, error)
	List(ctx context.Context, params ListParams) ([]models.SyncQueueEntry, *pagination.Cursor, error)
	MarkSynced(ctx context.Context, ids []int64, now time.Time) (int64, error)
	MarkPending(ctx context.Context, ids []int64, resetRetries bool) (int64, error)
	MarkAllFailedPending(ctx context.Context, resetRetries bool) (int64, error)
	CountByStatus(ctx context.Context) (map[enums.SyncStatus]int64, error)
	OldestPending(ctx context.Context) (*time.Time, error)
	Recent(ctx context.Context, status enums.SyncStatus, limit int) ([]models.SyncQueueEntry, error)
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EligibleParams bounds which entries a reconciler may pick up.
type EligibleParams struct {
	Limit       int
	MaxRetries  int
	RetryBefore time.Time
	StaleBefore time.Time
}

// Failure is what FinalizeFailed records.
type Failure struct {
	Message   string
	Retryable bool
}

// ListParams filters the admin listing.
type ListParams struct {
	Status    enums.SyncStatus
	RecordKey string
	From      *time.Time
	To        *time.Time
	Limit     int
	Cursor    *pagination.Cursor
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a queue repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) model(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.SyncQueueEntry{})
}

func (r *repositoryImpl) Insert(ctx context.Context, entry *models.SyncQueueEntry) error {
	if entry == nil {
		return errors.New("queue entry required")
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repositoryImpl) Get(ctx context.Context, id int64) (*models.SyncQueueEntry, error) {
	var entry models.SyncQueueEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// eligible narrows a query to rows a reconciler may claim: pending rows with
// no live lease, or failed rows still within their automatic retry budget.
func eligible(query *gorm.DB, params EligibleParams) *gorm.DB {
	return query.Where(
		"((status = ? AND (claim_token IS NULL OR claimed_at < ?)) OR "+
			"(status = ? AND retryable = ? AND retry_count < ? AND (last_attempt_at IS NULL OR last_attempt_at < ?)))",
		enums.SyncStatusPending, params.StaleBefore,
		enums.SyncStatusFailed, true, params.MaxRetries, params.RetryBefore,
	)
}

func (r *repositoryImpl) ListEligible(ctx context.Context, params EligibleParams) ([]models.SyncQueueEntry, error) {
	var rows []models.SyncQueueEntry
	err := eligible(r.model(ctx), params).
		Order("created_at ASC").
		Order("id ASC").
		Limit(params.Limit).
		Find(&rows).Error
	return rows, err
}

// Claim takes a lease on one entry. It moves failed rows back to pending so
// the row only ever walks the pending/failed/synced state machine. Only the
// caller that sees true owns the entry.
func (r *repositoryImpl) Claim(ctx context.Context, id int64, token uuid.UUID, now time.Time, params EligibleParams) (bool, error) {
	result := eligible(r.model(ctx).Where("id = ?", id), params).
		Updates(map[string]any{
			"status":      enums.SyncStatusPending,
			"claim_token": token,
			"claimed_at":  now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) FinalizeSynced(ctx context.Context, id int64, token uuid.UUID, now time.Time) (bool, error) {
	result := r.model(ctx).
		Where("id = ? AND claim_token = ? AND status = ?", id, token, enums.SyncStatusPending).
		Updates(map[string]any{
			"status":          enums.SyncStatusSynced,
			"synced_at":       now,
			"error_message":   nil,
			"claim_token":     nil,
			"claimed_at":      nil,
			"last_attempt_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) FinalizeFailed(ctx context.Context, id int64, token uuid.UUID, now time.Time, failure Failure) (bool, error) {
	result := r.model(ctx).
		Where("id = ? AND claim_token = ? AND status = ?", id, token, enums.SyncStatusPending).
		Updates(map[string]any{
			"status":          enums.SyncStatusFailed,
			"error_message":   failure.Message,
			"retry_count":     gorm.Expr("retry_count + 1"),
			"retryable":       failure.Retryable,
			"claim_token":     nil,
			"claimed_at":      nil,
			"last_attempt_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// HasNewer reports whether a later entry exists for the same record, in any
// status. Every entry carries the full state, so the later one makes an
// older entry obsolete.
func (r *repositoryImpl) HasNewer(ctx context.Context, recordKey string, id int64) (bool, error) {
	var count int64
	err := r.model(ctx).
		Where("record_key = ? AND id > ?", recordKey, id).
		Count(&count).Error
	return count > 0, err
}

// LatestIDs returns the highest entry id per record key. Keys without
// entries are absent from the map.
func (r *repositoryImpl) LatestIDs(ctx context.Context, recordKeys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(recordKeys))
	if len(recordKeys) == 0 {
		return out, nil
	}
	var rows []struct {
		RecordKey string
		LatestID  int64
	}
	err := r.model(ctx).
		Select("record_key, MAX(id) AS latest_id").
		Where("record_key IN ?", recordKeys).
		Group("record_key").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.RecordKey] = row.LatestID
	}
	return out, nil
}

func (r *repositoryImpl) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.model(ctx).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *repositoryImpl) ListPendingSince(ctx context.Context, since time.Time, limit int) ([]models.SyncQueueEntry, error) {
	var rows []models.SyncQueueEntry
	err := r.model(ctx).
		Where("status = ? AND created_at >= ?", enums.SyncStatusPending, since).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) List(ctx context.Context, params ListParams) ([]models.SyncQueueEntry, *pagination.Cursor, error) {
	query := r.model(ctx)
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.RecordKey != "" {
		query = query.Where("record_key = ?", params.RecordKey)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at < ?", *params.To)
	}
	var cursorID any
	if params.Cursor != nil {
		id, err := params.Cursor.Int64ID()
		if err != nil {
			return nil, nil, err
		}
		cursorID = id
	}

	var rows []models.SyncQueueEntry
	query = pagination.Keyset(query, pagination.OldestFirst, params.Limit, params.Cursor, cursorID)
	if err := query.Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, params.Limit, func(e models.SyncQueueEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: formatID(e.ID)}
	})
	return page, next, nil
}

// MarkSynced is the manual pending -> synced resolution. Rows in any other
// state are left alone, which makes repeated calls harmless.
func (r *repositoryImpl) MarkSynced(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.model(ctx).
		Where("id IN ? AND status = ?", ids, enums.SyncStatusPending).
		Updates(map[string]any{
			"status":        enums.SyncStatusSynced,
			"synced_at":     now,
			"error_message": nil,
			"claim_token":   nil,
			"claimed_at":    nil,
		})
	return result.RowsAffected, result.Error
}

// MarkPending requeues failed rows. Operator requeue also clears the
// non-retryable flag left by validation failures.
func (r *repositoryImpl) MarkPending(ctx context.Context, ids []int64, resetRetries bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.model(ctx).
		Where("id IN ? AND status = ?", ids, enums.SyncStatusFailed).
		Updates(requeueUpdates(resetRetries))
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) MarkAllFailedPending(ctx context.Context, resetRetries bool) (int64, error) {
	result := r.model(ctx).
		Where("status = ?", enums.SyncStatusFailed).
		Updates(requeueUpdates(resetRetries))
	return result.RowsAffected, result.Error
}

func requeueUpdates(resetRetries bool) map[string]any {
	updates := map[string]any{
		"status":          enums.SyncStatusPending,
		"retryable":       true,
		"claim_token":     nil,
		"claimed_at":      nil,
		"last_attempt_at": nil,
	}
	if resetRetries {
		updates["retry_count"] = 0
	}
	return updates
}

type statusCount struct {
	Status enums.SyncStatus
	Count  int64
}

func (r *repositoryImpl) CountByStatus(ctx context.Context) (map[enums.SyncStatus]int64, error) {
	var rows []statusCount
	if err := r.model(ctx).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := map[enums.SyncStatus]int64{
		enums.SyncStatusPending: 0,
		enums.SyncStatusSynced:  0,
		enums.SyncStatusFailed:  0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *repositoryImpl) OldestPending(ctx context.Context) (*time.Time, error) {
	var entry models.SyncQueueEntry
	err := r.model(ctx).
		Where("status = ?", enums.SyncStatusPending).
		Order("created_at ASC, id ASC").
		Limit(1).
		Find(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry.CreatedAt, nil
}

func (r *repositoryImpl) Recent(ctx context.Context, status enums.SyncStatus, limit int) ([]models.SyncQueueEntry, error) {
	var rows []models.SyncQueueEntry
	err := r.model(ctx).
		Where("status = ?", status).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeleteSyncedBefore is retention policy A. The status predicate keeps
// pending and failed rows out of reach regardless of age.
func (r *repositoryImpl) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND synced_at IS NOT NULL AND synced_at < ?", enums.SyncStatusSynced, cutoff).
		Delete(&models.SyncQueueEntry{})
	return result.RowsAffected, result.Error
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
