package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/piratar/members-sync/internal/syncqueue"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
)

// changeView is one row of GET /api/sync/changes.
type changeView struct {
	ID            int64            `json:"id"`
	SSN           string           `json:"ssn"`
	Action        enums.SyncAction `json:"action"`
	FieldsChanged json.RawMessage  `json:"fields_changed"`
	CreatedAt     time.Time        `json:"created_at"`
}

func toChangeView(entry models.SyncQueueEntry) changeView {
	return changeView{
		ID:            entry.ID,
		SSN:           entry.RecordKey,
		Action:        entry.Action,
		FieldsChanged: syncqueue.ChangedFieldsJSON(entry.ChangedFields),
		CreatedAt:     entry.CreatedAt.UTC(),
	}
}

// entryView is the operator view of a queue row, error text included.
type entryView struct {
	ID            int64            `json:"id"`
	RecordKey     string           `json:"record_key"`
	Action        enums.SyncAction `json:"action"`
	Status        enums.SyncStatus `json:"status"`
	FieldsChanged json.RawMessage  `json:"fields_changed"`
	FieldsVersion int              `json:"fields_version"`
	CreatedAt     time.Time        `json:"created_at"`
	SyncedAt      *time.Time       `json:"synced_at,omitempty"`
	ErrorMessage  *string          `json:"error_message,omitempty"`
	RetryCount    int              `json:"retry_count"`
	Retryable     bool             `json:"retryable"`
	LastAttemptAt *time.Time       `json:"last_attempt_at,omitempty"`
}

func toEntryView(entry models.SyncQueueEntry) entryView {
	return entryView{
		ID:            entry.ID,
		RecordKey:     entry.RecordKey,
		Action:        entry.Action,
		Status:        entry.Status,
		FieldsChanged: syncqueue.ChangedFieldsJSON(entry.ChangedFields),
		FieldsVersion: entry.FieldsVersion,
		CreatedAt:     entry.CreatedAt.UTC(),
		SyncedAt:      entry.SyncedAt,
		ErrorMessage:  entry.ErrorMessage,
		RetryCount:    entry.RetryCount,
		Retryable:     entry.Retryable,
		LastAttemptAt: entry.LastAttemptAt,
	}
}

func toEntryViews(entries []models.SyncQueueEntry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toEntryView(entry))
	}
	return out
}

type memberView struct {
	ID               uuid.UUID `json:"id"`
	SSN              string    `json:"ssn"`
	Name             string    `json:"name"`
	Birthday         *string   `json:"birthday"`
	Gender           string    `json:"gender"`
	HousingSituation string    `json:"housing_situation"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	StreetAddress    string    `json:"street_address"`
	PostalCode       string    `json:"postal_code"`
	City             string    `json:"city"`
	Reachable        bool      `json:"reachable"`
	Groupable        bool      `json:"groupable"`
	DateJoined       time.Time `json:"date_joined"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toMemberView(m *models.Member) memberView {
	view := memberView{
		ID:               m.ID,
		SSN:              m.SSN,
		Name:             m.Name,
		Gender:           m.Gender.String(),
		HousingSituation: m.HousingSituation.String(),
		Email:            m.Email,
		Phone:            m.Phone,
		StreetAddress:    m.StreetAddress,
		PostalCode:       m.PostalCode,
		City:             m.City,
		Reachable:        m.Reachable,
		Groupable:        m.Groupable,
		DateJoined:       m.DateJoined.UTC(),
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
	if m.Birthday != nil {
		b := m.Birthday.Format("2006-01-02")
		view.Birthday = &b
	}
	return view
}

type auditView struct {
	ID          uuid.UUID           `json:"id"`
	Kind        enums.SyncAuditKind `json:"kind"`
	Status      enums.SyncRunStatus `json:"status"`
	Processed   int                 `json:"processed"`
	Succeeded   int                 `json:"succeeded"`
	Failed      int                 `json:"failed"`
	Conflicts   int                 `json:"conflicts"`
	Detail      json.RawMessage     `json:"detail,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

func toAuditView(row models.SyncAuditLog) auditView {
	view := auditView{
		ID:          row.ID,
		Kind:        row.Kind,
		Status:      row.Status,
		Processed:   row.Processed,
		Succeeded:   row.Succeeded,
		Failed:      row.Failed,
		Conflicts:   row.Conflicts,
		StartedAt:   row.StartedAt.UTC(),
		CompletedAt: row.CompletedAt,
		CreatedAt:   row.CreatedAt.UTC(),
	}
	if len(row.Detail) > 0 {
		view.Detail = json.RawMessage(row.Detail)
	}
	return view
}
