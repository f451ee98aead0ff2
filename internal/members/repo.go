package members

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/piratar/members-sync/internal/repo"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/pagination"
)

// Repository reads and writes member rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, member *models.Member) error
	Save(ctx context.Context, member *models.Member) error
	Delete(ctx context.Context, member *models.Member) error
	FindBySSN(ctx context.Context, ssn string) (*models.Member, error)
	LockBySSN(ctx context.Context, ssn string) (*models.Member, error)
	FindBySSNs(ctx context.Context, ssns []string) ([]models.Member, error)
	List(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.Member, *pagination.Cursor, error)
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

func (r *repositoryImpl) Create(ctx context.Context, member *models.Member) error {
	return r.DB(ctx).Create(member).Error
}

// Save writes every column, zero values included. It returns
// gorm.ErrRecordNotFound when the row is gone.
func (r *repositoryImpl) Save(ctx context.Context, member *models.Member) error {
	result := r.DB(ctx).Select("*").Omit("id", "created_at").Updates(member)
	return affectedOne(result)
}

// Delete returns gorm.ErrRecordNotFound when the row is already gone.
func (r *repositoryImpl) Delete(ctx context.Context, member *models.Member) error {
	result := r.DB(ctx).Where("id = ?", member.ID).Delete(&models.Member{})
	return affectedOne(result)
}

func affectedOne(result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repositoryImpl) FindBySSN(ctx context.Context, ssn string) (*models.Member, error) {
	var member models.Member
	if err := r.DB(ctx).Where("ssn = ?", ssn).First(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repositoryImpl) FindBySSNs(ctx context.Context, ssns []string) ([]models.Member, error) {
	var rows []models.Member
	if len(ssns) == 0 {
		return rows, nil
	}
	if err := r.DB(ctx).Where("ssn IN ?", ssns).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LockBySSN loads the row with FOR UPDATE so concurrent writers to the same
// member queue up behind the open transaction. sqlite ignores the clause and
// serialises writers itself.
func (r *repositoryImpl) LockBySSN(ctx context.Context, ssn string) (*models.Member, error) {
	var member models.Member
	err := r.DB(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("ssn = ?", ssn).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repositoryImpl) List(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.Member, *pagination.Cursor, error) {
	var cursorID any
	if cursor != nil {
		cursorID = cursor.ID
	}
	var rows []models.Member
	query := pagination.Keyset(r.Model(ctx, &models.Member{}), pagination.OldestFirst, limit, cursor, cursorID)
	if err := query.Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, limit, func(m models.Member) pagination.Cursor {
		return pagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID.String()}
	})
	return page, next, nil
}
