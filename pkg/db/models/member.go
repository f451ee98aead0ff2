package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/piratar/members-sync/pkg/enums"
)

// Member is the canonical registry row. SSN is the kennitala and doubles as
// the sync record key.
type Member struct {
	ID               uuid.UUID              `gorm:"type:uuid;primaryKey"`
	SSN              string                 `gorm:"column:ssn;type:varchar(10);uniqueIndex;not null"`
	Name             string                 `gorm:"type:text;not null"`
	Birthday         *time.Time             `gorm:"type:date"`
	Gender           enums.Gender           `gorm:"type:smallint;not null;default:0"`
	HousingSituation enums.HousingSituation `gorm:"type:smallint;not null;default:0"`
	Email            string                 `gorm:"type:text"`
	Phone            string                 `gorm:"type:varchar(32)"`
	StreetAddress    string                 `gorm:"type:text"`
	PostalCode       string                 `gorm:"type:varchar(10)"`
	City             string                 `gorm:"type:text"`
	Reachable        bool                   `gorm:"not null"`
	Groupable        bool                   `gorm:"not null"`
	DateJoined       time.Time              `gorm:"type:timestamptz;not null"`
	CreatedAt        time.Time              `gorm:"type:timestamptz;not null"`
	UpdatedAt        time.Time              `gorm:"type:timestamptz;not null"`
}

func (Member) TableName() string { return "members" }
