package syncqueue

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
)

// Recorder turns one member mutation into exactly one queue entry. Callers
// pass the mutation's transaction so the entry commits or rolls back with it.
type Recorder struct {
	repo Repository
	now  func() time.Time
}

// NewRecorder builds a recorder over the queue repository.
func NewRecorder(repo Repository) (*Recorder, error) {
	if repo == nil {
		return nil, errors.New("queue repository required")
	}
	return &Recorder{repo: repo, now: time.Now}, nil
}

// RecordCreate enqueues a full snapshot of a newly inserted member.
func (r *Recorder) RecordCreate(ctx context.Context, tx *gorm.DB, member *models.Member) (*models.SyncQueueEntry, error) {
	return r.recordSnapshot(ctx, tx, enums.SyncActionCreate, member)
}

// RecordUpdate enqueues a full snapshot of the member as it is after the update.
func (r *Recorder) RecordUpdate(ctx context.Context, tx *gorm.DB, member *models.Member) (*models.SyncQueueEntry, error) {
	return r.recordSnapshot(ctx, tx, enums.SyncActionUpdate, member)
}

// RecordDelete enqueues a delete. recordKey must be captured by the caller
// before the row is removed.
func (r *Recorder) RecordDelete(ctx context.Context, tx *gorm.DB, recordKey string) (*models.SyncQueueEntry, error) {
	entry := &models.SyncQueueEntry{
		RecordKey:     strings.TrimSpace(recordKey),
		Action:        enums.SyncActionDelete,
		ChangedFields: emptyFields(),
		FieldsVersion: SyncableFieldsVersion,
	}
	return r.insert(ctx, tx, entry)
}

func (r *Recorder) recordSnapshot(ctx context.Context, tx *gorm.DB, action enums.SyncAction, member *models.Member) (*models.SyncQueueEntry, error) {
	if member == nil {
		return nil, errors.New("member required")
	}
	fields, err := SnapshotFromMember(member).JSON()
	if err != nil {
		return nil, err
	}
	entry := &models.SyncQueueEntry{
		RecordKey:     member.SSN,
		Action:        action,
		ChangedFields: fields,
		FieldsVersion: SyncableFieldsVersion,
	}
	return r.insert(ctx, tx, entry)
}

func (r *Recorder) insert(ctx context.Context, tx *gorm.DB, entry *models.SyncQueueEntry) (*models.SyncQueueEntry, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if entry.RecordKey == "" {
		return nil, errors.New("record key required")
	}
	entry.Status = enums.SyncStatusPending
	entry.Retryable = true
	entry.CreatedAt = r.now().UTC()
	if err := r.repo.WithTx(tx).Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
