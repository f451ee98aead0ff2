package controllers

import (
	"context"
	"net/http"

	"github.com/piratar/members-sync/api/responses"
	"github.com/piratar/members-sync/api/validators"
	"github.com/piratar/members-sync/internal/inbound"
	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/internal/syncqueue"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/logger"
)

const (
	maxChangesLimit = 5000
	maxStatusLimit  = 100
)

// BatchApplier applies replica-originated changes to the primary store.
type BatchApplier interface {
	Apply(ctx context.Context, items []inbound.Item) (*inbound.BatchResult, error)
}

type applyRequest struct {
	Changes []inbound.Item `json:"changes"`
}

type markSyncedRequest struct {
	SyncIDs []int64 `json:"sync_ids" validate:"dive,gt=0"`
}

// SyncChanges lists pending entries created at or after since. When since is
// omitted it defaults to the last completed inbound run, or 24h ago, moved
// back to the oldest pending entry if that is earlier. The resolved value is
// echoed as since in the response.
func SyncChanges(svc syncqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue unavailable"))
			return
		}

		since, err := validators.ParseQueryTime(r, "since")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, maxChangesLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ChangesSince(r.Context(), since, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		changes := make([]changeView, 0, len(result.Changes))
		for _, entry := range result.Changes {
			changes = append(changes, toChangeView(entry))
		}
		responses.WriteSuccess(w, map[string]any{
			"since":   result.Since,
			"changes": changes,
			"count":   result.Count,
		})
	}
}

// SyncApply writes an inbound batch. Per-item outcomes are returned even when
// some items are rejected.
func SyncApply(applier BatchApplier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if applier == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inbound applier unavailable"))
			return
		}

		var req applyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := applier.Apply(r.Context(), req.Changes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// SyncMarkSynced acknowledges entries the caller has applied to the replica.
func SyncMarkSynced(svc syncqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue unavailable"))
			return
		}

		var req markSyncedRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		count, err := svc.MarkSynced(r.Context(), req.SyncIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"success":       true,
			"marked_synced": count,
		})
	}
}

// SyncStatus reports queue counts and recent samples.
func SyncStatus(svc syncqueue.Service, defaultSamples int, logg *logger.Logger) http.HandlerFunc {
	if defaultSamples <= 0 || defaultSamples > maxStatusLimit {
		defaultSamples = 10
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", defaultSamples, 1, maxStatusLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := svc.Status(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// SyncMember returns the primary's current record for one key.
func SyncMember(svc members.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "members service unavailable"))
			return
		}

		key, err := validators.ParseRecordKeyParam(r, "recordKey")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		member, err := svc.Get(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toMemberView(member))
	}
}
