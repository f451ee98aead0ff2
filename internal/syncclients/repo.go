package syncclients

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/piratar/members-sync/internal/repo"
	"github.com/piratar/members-sync/pkg/db/models"
)

// Repository persists machine credentials.
type Repository interface {
	Create(ctx context.Context, client *models.SyncClient) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SyncClient, error)
	FindByName(ctx context.Context, name string) (*models.SyncClient, error)
	List(ctx context.Context) ([]models.SyncClient, error)
	UpdateSecret(ctx context.Context, id uuid.UUID, hash string, at time.Time) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

type repositoryImpl struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{Base: repo.NewBase(db)}
}

func (r *repositoryImpl) Create(ctx context.Context, client *models.SyncClient) error {
	if client.ID == uuid.Nil {
		client.ID = uuid.New()
	}
	return r.DB(ctx).Create(client).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.SyncClient, error) {
	var client models.SyncClient
	if err := r.DB(ctx).Where("id = ?", id).First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *repositoryImpl) FindByName(ctx context.Context, name string) (*models.SyncClient, error) {
	var client models.SyncClient
	if err := r.DB(ctx).Where("name = ?", name).First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *repositoryImpl) List(ctx context.Context) ([]models.SyncClient, error) {
	var clients []models.SyncClient
	err := r.DB(ctx).Order("name ASC").Find(&clients).Error
	return clients, err
}

func (r *repositoryImpl) UpdateSecret(ctx context.Context, id uuid.UUID, hash string, at time.Time) error {
	result := r.Model(ctx, &models.SyncClient{}).
		Where("id = ?", id).
		Updates(map[string]any{"secret_hash": hash, "updated_at": at})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repositoryImpl) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.Model(ctx, &models.SyncClient{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
}

func (r *repositoryImpl) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.DB(ctx).Where("id = ?", id).Delete(&models.SyncClient{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
