package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/piratar/members-sync/pkg/enums"
)

// SyncQueueEntry records one member mutation awaiting propagation to the replica.
type SyncQueueEntry struct {
	ID            int64            `gorm:"primaryKey;autoIncrement"`
	RecordKey     string           `gorm:"type:varchar(10);not null"`
	Action        enums.SyncAction `gorm:"type:varchar(16);not null"`
	ChangedFields datatypes.JSON   `gorm:"type:jsonb;not null"`
	FieldsVersion int              `gorm:"not null;default:0"`
	Status        enums.SyncStatus `gorm:"type:varchar(16);not null;default:pending"`
	CreatedAt     time.Time        `gorm:"type:timestamptz;not null"`
	SyncedAt      *time.Time       `gorm:"type:timestamptz"`
	ErrorMessage  *string          `gorm:"type:text"`
	RetryCount    int              `gorm:"not null;default:0"`
	Retryable     bool             `gorm:"not null"`
	ClaimToken    *uuid.UUID       `gorm:"type:uuid"`
	ClaimedAt     *time.Time       `gorm:"type:timestamptz"`
	LastAttemptAt *time.Time       `gorm:"type:timestamptz"`
}

func (SyncQueueEntry) TableName() string { return "member_sync_queue" }
