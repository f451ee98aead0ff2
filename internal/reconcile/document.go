package reconcile

import (
	"encoding/json"
	"math"
	"time"

	"github.com/piratar/members-sync/internal/syncqueue"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	"github.com/piratar/members-sync/pkg/replica"
)

const (
	documentSource = "primary"
	entryIDPath    = "metadata.queue_entry_id"
)

// BuildDocument projects a create/update entry into the replica document. The
// output depends only on the entry, so re-applying an entry writes identical
// content.
func BuildDocument(entry *models.SyncQueueEntry, snap syncqueue.MemberSnapshot) replica.Document {
	var birthday any
	if snap.Birthday != nil {
		birthday = *snap.Birthday
	}
	var joined any
	if snap.DateJoined != "" {
		joined = snap.DateJoined
	}

	return replica.Document{
		"kennitala": entry.RecordKey,
		"profile": map[string]any{
			"name":             snap.Name,
			"birthday":         birthday,
			"gender":           enums.Gender(snap.Gender).String(),
			"housingSituation": enums.HousingSituation(snap.HousingSituation).String(),
			"email":            snap.Email,
			"phone":            snap.Phone,
			"address": map[string]any{
				"street":     snap.StreetAddress,
				"postalcode": snap.PostalCode,
				"city":       snap.City,
			},
		},
		"membership": map[string]any{
			"status": "active",
			"joined": joined,
		},
		"privacy": map[string]any{
			"reachable": snap.Reachable,
			"groupable": snap.Groupable,
		},
		"metadata": map[string]any{
			"queue_entry_id":    entry.ID,
			"source_changed_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
			"source":            documentSource,
			"fields_version":    entry.FieldsVersion,
		},
	}
}

// MemberDocument projects a member row directly, stamped with entryID as the
// queue entry it reflects.
func MemberDocument(m *models.Member, entryID int64) replica.Document {
	entry := &models.SyncQueueEntry{
		ID:            entryID,
		RecordKey:     m.SSN,
		FieldsVersion: syncqueue.SyncableFieldsVersion,
		CreatedAt:     m.UpdatedAt,
	}
	return BuildDocument(entry, syncqueue.SnapshotFromMember(m))
}

// DocumentEntryID reads the queue entry id a stored document was built from.
// Backends decode numbers into different types.
func DocumentEntryID(doc replica.Document) (int64, bool) {
	v, ok := doc.Lookup(entryIDPath)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	default:
		return 0, false
	}
}
