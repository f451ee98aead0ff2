package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/piratar/members-sync/pkg/enums"
)

// SyncClient is a machine credential allowed to call the sync control API.
type SyncClient struct {
	ID         uuid.UUID        `gorm:"type:uuid;primaryKey"`
	Name       string           `gorm:"type:text;uniqueIndex;not null"`
	SecretHash string           `gorm:"type:text;not null"`
	Role       enums.ClientRole `gorm:"type:varchar(16);not null"`
	LastUsedAt *time.Time       `gorm:"type:timestamptz"`
	CreatedAt  time.Time        `gorm:"type:timestamptz;not null"`
	UpdatedAt  time.Time        `gorm:"type:timestamptz;not null"`
}

func (SyncClient) TableName() string { return "sync_clients" }
