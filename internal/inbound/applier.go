package inbound

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/piratar/members-sync/internal/audit"
	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/kennitala"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/metrics"
)

// MaxBatchSize bounds one apply call.
const MaxBatchSize = 1000

// Item statuses.
const (
	StatusApplied  = "applied"
	StatusRejected = "rejected"
	StatusConflict = "conflict"
)

// Item is one replica-originated change.
type Item struct {
	RecordKey       string         `json:"record_key"`
	Action          string         `json:"action"`
	Fields          map[string]any `json:"fields"`
	OriginTimestamp *time.Time     `json:"origin_timestamp,omitempty"`
}

type ItemResult struct {
	Index     int    `json:"index"`
	RecordKey string `json:"record_key"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

type BatchResult struct {
	Results   []ItemResult `json:"results"`
	Applied   int          `json:"applied"`
	Rejected  int          `json:"rejected"`
	Conflicts int          `json:"conflicts"`
}

type auditRecorder interface {
	Record(ctx context.Context, run audit.Run) (*models.SyncAuditLog, error)
}

type ApplierParams struct {
	Members members.Service
	Audit   auditRecorder
	Metrics *metrics.SyncMetrics
	Logger  *logger.Logger
}

// Applier writes replica changes into the primary store, one transaction per
// item, through the members service so each applied item is re-queued for the
// replica like any other mutation.
type Applier struct {
	members members.Service
	audit   auditRecorder
	metrics *metrics.SyncMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewApplier(params ApplierParams) (*Applier, error) {
	if params.Members == nil {
		return nil, errors.New("members service is required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit recorder is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Applier{
		members: params.Members,
		audit:   params.Audit,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     time.Now,
	}, nil
}

// Apply processes items in order. Results line up with the input by index.
func (a *Applier) Apply(ctx context.Context, items []Item) (*BatchResult, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "changes must not be empty")
	}
	if len(items) > MaxBatchSize {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d changes per batch", MaxBatchSize)
	}

	started := a.now().UTC()
	out := &BatchResult{Results: make([]ItemResult, 0, len(items))}
	for i, item := range items {
		result := a.applyItem(ctx, i, item)
		switch result.Status {
		case StatusApplied:
			out.Applied++
		case StatusConflict:
			out.Conflicts++
		default:
			out.Rejected++
		}
		a.metrics.IncInbound(result.Status)
		out.Results = append(out.Results, result)
	}

	_, err := a.audit.Record(ctx, audit.Run{
		Kind:      enums.SyncAuditKindInbound,
		StartedAt: started,
		Processed: len(items),
		Succeeded: out.Applied,
		Failed:    out.Rejected,
		Conflicts: out.Conflicts,
		Detail:    map[string]any{"rejected": rejectedDetail(out.Results)},
	})
	if err != nil {
		a.logg.Warn(a.logg.WithField(ctx, "error", err.Error()), "inbound audit write failed")
	}
	return out, nil
}

func (a *Applier) applyItem(ctx context.Context, index int, item Item) ItemResult {
	result := ItemResult{Index: index, RecordKey: strings.TrimSpace(item.RecordKey)}
	key, err := kennitala.Parse(item.RecordKey)
	if err != nil {
		return reject(result, "invalid kennitala: "+err.Error())
	}
	result.RecordKey = key

	action, err := enums.ParseSyncAction(strings.ToLower(strings.TrimSpace(item.Action)))
	if err != nil {
		return reject(result, err.Error())
	}

	guard := members.Guard{NotAfter: item.OriginTimestamp}
	switch action {
	case enums.SyncActionCreate:
		patch, err := buildPatch(item.Fields)
		if err != nil {
			return reject(result, err.Error())
		}
		_, err = a.members.Create(ctx, key, patch)
		if pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			return reject(result, "member already exists")
		}
		return a.outcome(ctx, result, err)
	case enums.SyncActionUpdate:
		patch, err := buildPatch(item.Fields)
		if err != nil {
			return reject(result, err.Error())
		}
		_, err = a.members.Update(ctx, key, patch, guard)
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return reject(result, "member not found")
		}
		return a.outcome(ctx, result, err)
	default:
		err := a.members.Delete(ctx, key, guard)
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			result.Status = StatusApplied
			return result
		}
		return a.outcome(ctx, result, err)
	}
}

func (a *Applier) outcome(ctx context.Context, result ItemResult, err error) ItemResult {
	switch {
	case err == nil:
		result.Status = StatusApplied
	case pkgerrors.HasCode(err, pkgerrors.CodeConflict):
		result.Status = StatusConflict
		result.Reason = "member changed after origin timestamp"
	case pkgerrors.HasCode(err, pkgerrors.CodeValidation):
		result = reject(result, err.Error())
	default:
		warnCtx := a.logg.WithFields(ctx, map[string]any{
			"record_key": kennitala.Mask(result.RecordKey),
			"index":      result.Index,
			"error":      err.Error(),
		})
		a.logg.Warn(warnCtx, "inbound item failed")
		result = reject(result, "primary store unavailable")
	}
	return result
}

func reject(result ItemResult, reason string) ItemResult {
	result.Status = StatusRejected
	result.Reason = reason
	return result
}

func rejectedDetail(results []ItemResult) []map[string]any {
	out := []map[string]any{}
	for _, r := range results {
		if r.Status == StatusApplied {
			continue
		}
		out = append(out, map[string]any{
			"index":      r.Index,
			"record_key": kennitala.Mask(r.RecordKey),
			"status":     r.Status,
			"reason":     r.Reason,
		})
	}
	return out
}
