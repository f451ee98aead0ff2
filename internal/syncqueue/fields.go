package syncqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/piratar/members-sync/pkg/db/models"
)

const (
	// SyncableFieldsVersion is stamped on every entry. Bump it whenever
	// SyncableFields or MemberSnapshot change shape.
	SyncableFieldsVersion = 2

	birthdayLayout = "2006-01-02"
)

// SyncableFields lists, in order, every member column copied into create and
// update entries. It is a conservative over-approximation: update entries
// carry all of them, not a diff.
var SyncableFields = []string{
	"name",
	"birthday",
	"gender",
	"housing_situation",
	"email",
	"phone",
	"street_address",
	"postal_code",
	"city",
	"reachable",
	"groupable",
	"date_joined",
}

// MemberSnapshot is the full-state payload of a create/update entry. Field
// order matches SyncableFields so the encoded object stays ordered.
type MemberSnapshot struct {
	Name             string  `json:"name"`
	Birthday         *string `json:"birthday"`
	Gender           int     `json:"gender"`
	HousingSituation int     `json:"housing_situation"`
	Email            string  `json:"email"`
	Phone            string  `json:"phone"`
	StreetAddress    string  `json:"street_address"`
	PostalCode       string  `json:"postal_code"`
	City             string  `json:"city"`
	Reachable        bool    `json:"reachable"`
	Groupable        bool    `json:"groupable"`
	DateJoined       string  `json:"date_joined"`
}

// SnapshotFromMember reads every syncable field off the row.
func SnapshotFromMember(m *models.Member) MemberSnapshot {
	snap := MemberSnapshot{
		Name:             m.Name,
		Gender:           int(m.Gender),
		HousingSituation: int(m.HousingSituation),
		Email:            m.Email,
		Phone:            m.Phone,
		StreetAddress:    m.StreetAddress,
		PostalCode:       m.PostalCode,
		City:             m.City,
		Reachable:        m.Reachable,
		Groupable:        m.Groupable,
	}
	if m.Birthday != nil {
		b := m.Birthday.UTC().Format(birthdayLayout)
		snap.Birthday = &b
	}
	if !m.DateJoined.IsZero() {
		snap.DateJoined = m.DateJoined.UTC().Format(time.RFC3339)
	}
	return snap
}

// JSON encodes the snapshot for the changed_fields column.
func (s MemberSnapshot) JSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode member snapshot: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// DecodeSnapshot reads changed_fields back. Unknown keys are ignored so
// entries written by older field versions still decode.
func DecodeSnapshot(raw datatypes.JSON) (MemberSnapshot, error) {
	var snap MemberSnapshot
	if len(raw) == 0 {
		return snap, fmt.Errorf("changed fields are empty")
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("decode member snapshot: %w", err)
	}
	return snap, nil
}

// ChangedFieldsJSON returns changed_fields as stored so API output keeps
// the SyncableFields key order. A value that is not valid JSON is returned
// as a JSON string holding the raw text.
func ChangedFieldsJSON(raw datatypes.JSON) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	if !json.Valid(raw) {
		quoted, _ := json.Marshal(string(raw))
		return quoted
	}
	return json.RawMessage(raw)
}

// emptyFields is stored for delete entries.
func emptyFields() datatypes.JSON {
	return datatypes.JSON([]byte("{}"))
}
