package enums

import "fmt"

// SyncAuditKind identifies which direction a sync run covered.
type SyncAuditKind string

const (
	SyncAuditKindOutbound SyncAuditKind = "outbound"
	SyncAuditKindInbound  SyncAuditKind = "inbound"
	SyncAuditKindManual   SyncAuditKind = "manual"
)

var validSyncAuditKinds = []SyncAuditKind{
	SyncAuditKindOutbound,
	SyncAuditKindInbound,
	SyncAuditKindManual,
}

func (k SyncAuditKind) String() string {
	return string(k)
}

func (k SyncAuditKind) IsValid() bool {
	for _, candidate := range validSyncAuditKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseSyncAuditKind converts raw input into a SyncAuditKind.
func ParseSyncAuditKind(value string) (SyncAuditKind, error) {
	for _, candidate := range validSyncAuditKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync audit kind %q", value)
}

// SyncRunStatus summarises the outcome of a sync run.
type SyncRunStatus string

const (
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunPartial   SyncRunStatus = "partial"
	SyncRunFailed    SyncRunStatus = "failed"
)

// RunStatusFor derives the run status from its counters.
func RunStatusFor(succeeded, failed int) SyncRunStatus {
	switch {
	case failed == 0:
		return SyncRunCompleted
	case succeeded == 0:
		return SyncRunFailed
	default:
		return SyncRunPartial
	}
}
