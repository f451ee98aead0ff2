package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/piratar/members-sync/internal/repo"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	"github.com/piratar/members-sync/pkg/pagination"
)

// Repository persists sync run history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, row *models.SyncAuditLog) error
	LastCompletedAt(ctx context.Context, kind enums.SyncAuditKind) (*time.Time, error)
	List(ctx context.Context, params ListParams) ([]models.SyncAuditLog, *pagination.Cursor, error)
	Count(ctx context.Context) (int64, error)
	IDsBeyondNewest(ctx context.Context, keep, limit int) ([]uuid.UUID, error)
	DeleteIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// ListParams pages through runs newest first.
type ListParams struct {
	Kind   enums.SyncAuditKind
	Limit  int
	Cursor *pagination.Cursor
}

type repositoryImpl struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{Base: repo.NewBase(db)}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	return &repositoryImpl{Base: r.Bind(tx)}
}

func (r *repositoryImpl) Insert(ctx context.Context, row *models.SyncAuditLog) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.DB(ctx).Create(row).Error
}

// LastCompletedAt returns when the newest finished run of kind completed, or
// nil when there is none.
func (r *repositoryImpl) LastCompletedAt(ctx context.Context, kind enums.SyncAuditKind) (*time.Time, error) {
	var row models.SyncAuditLog
	err := r.Model(ctx, &models.SyncAuditLog{}).
		Where("kind = ? AND completed_at IS NOT NULL", kind).
		Order("completed_at DESC").
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return row.CompletedAt, nil
}

func (r *repositoryImpl) List(ctx context.Context, params ListParams) ([]models.SyncAuditLog, *pagination.Cursor, error) {
	query := r.Model(ctx, &models.SyncAuditLog{})
	if params.Kind != "" {
		query = query.Where("kind = ?", params.Kind)
	}
	var cursorID any
	if params.Cursor != nil {
		cursorID = params.Cursor.ID
	}

	var rows []models.SyncAuditLog
	query = pagination.Keyset(query, pagination.NewestFirst, params.Limit, params.Cursor, cursorID)
	if err := query.Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, params.Limit, func(l models.SyncAuditLog) pagination.Cursor {
		return pagination.Cursor{CreatedAt: l.CreatedAt, ID: l.ID.String()}
	})
	return page, next, nil
}

func (r *repositoryImpl) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.Model(ctx, &models.SyncAuditLog{}).Count(&count).Error
	return count, err
}

// IDsBeyondNewest returns up to limit ids of rows outside the keep newest,
// oldest excluded rows last.
func (r *repositoryImpl) IDsBeyondNewest(ctx context.Context, keep, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.Model(ctx, &models.SyncAuditLog{}).
		Order("created_at DESC, id DESC").
		Offset(keep).
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repositoryImpl) DeleteIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.DB(ctx).Where("id IN ?", ids).Delete(&models.SyncAuditLog{})
	return result.RowsAffected, result.Error
}
