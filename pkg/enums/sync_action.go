package enums

import "fmt"

// SyncAction is the kind of mutation a queue entry propagates.
type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
	SyncActionDelete SyncAction = "delete"
)

var validSyncActions = []SyncAction{
	SyncActionCreate,
	SyncActionUpdate,
	SyncActionDelete,
}

// String implements fmt.Stringer.
func (a SyncAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known SyncAction.
func (a SyncAction) IsValid() bool {
	for _, candidate := range validSyncActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseSyncAction converts raw input into a SyncAction.
func ParseSyncAction(value string) (SyncAction, error) {
	for _, candidate := range validSyncActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync action %q", value)
}
