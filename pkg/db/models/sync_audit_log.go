package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/piratar/members-sync/pkg/enums"
)

// SyncAuditLog is the append-only history of sync runs.
type SyncAuditLog struct {
	ID          uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Kind        enums.SyncAuditKind `gorm:"type:varchar(16);not null"`
	Status      enums.SyncRunStatus `gorm:"type:varchar(16);not null"`
	Processed   int                 `gorm:"not null;default:0"`
	Succeeded   int                 `gorm:"not null;default:0"`
	Failed      int                 `gorm:"not null;default:0"`
	Conflicts   int                 `gorm:"not null;default:0"`
	Detail      datatypes.JSON      `gorm:"type:jsonb"`
	StartedAt   time.Time           `gorm:"type:timestamptz;not null"`
	CompletedAt *time.Time          `gorm:"type:timestamptz"`
	CreatedAt   time.Time           `gorm:"type:timestamptz;not null"`
}

func (SyncAuditLog) TableName() string { return "sync_audit_log" }
