package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/piratar/members-sync/api/responses"
	"github.com/piratar/members-sync/api/validators"
	"github.com/piratar/members-sync/internal/audit"
	"github.com/piratar/members-sync/internal/syncqueue"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/kennitala"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/pagination"
)

// AuditLister pages through sync run history.
type AuditLister interface {
	List(ctx context.Context, kind string, limit int, cursor string) (*audit.ListResult, error)
}

type markPendingRequest struct {
	IDs          []int64 `json:"ids" validate:"dive,gt=0"`
	ResetRetries bool    `json:"reset_retries"`
}

type markIDsRequest struct {
	IDs []int64 `json:"ids" validate:"dive,gt=0"`
}

type retryFailedRequest struct {
	ResetRetries bool `json:"reset_retries"`
}

// AdminListEntries filters the queue by status, time range and record key.
func AdminListEntries(svc syncqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue unavailable"))
			return
		}

		query := r.URL.Query()
		req := syncqueue.ListRequest{
			Status: strings.TrimSpace(query.Get("status")),
			Cursor: strings.TrimSpace(query.Get("cursor")),
		}
		if raw := strings.TrimSpace(query.Get("record_key")); raw != "" {
			key, err := kennitala.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid record key").
					WithDetails(map[string]any{"field": "record_key"}))
				return
			}
			req.RecordKey = key
		}

		var err error
		if req.From, err = validators.ParseQueryTime(r, "from"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.To, err = validators.ParseQueryTime(r, "to"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.Limit, err = validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  toEntryViews(result.Items),
			"cursor": result.Cursor,
		})
	}
}

func AdminGetEntry(svc syncqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue unavailable"))
			return
		}

		id, err := validators.ParseInt64Param(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toEntryView(*entry))
	}
}

// AdminMarkPending returns entries to the reconciler.
func AdminMarkPending(svc syncqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue unavailable"))
			return
		}

		var req markPendingRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		count, err := svc.MarkPending(r.Context(), req.IDs, req.ResetRetries)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"marked_pending": count})
	}
}

func AdminMarkSynced(svc syncqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue unavailable"))
			return
		}

		var req markIDsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		count, err := svc.MarkSynced(r.Context(), req.IDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"marked_synced": count})
	}
}

// AdminRetryFailed moves every failed entry back to pending. The body is optional.
func AdminRetryFailed(svc syncqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue unavailable"))
			return
		}

		var req retryFailedRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		count, err := svc.RetryAllFailed(r.Context(), req.ResetRetries)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"requeued": count})
	}
}

// AdminListAudit pages the sync audit log, newest first.
func AdminListAudit(svc AuditLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit log unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query := r.URL.Query()
		result, err := svc.List(r.Context(), strings.TrimSpace(query.Get("kind")), limit, strings.TrimSpace(query.Get("cursor")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]auditView, 0, len(result.Items))
		for _, row := range result.Items {
			items = append(items, toAuditView(row))
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": result.Cursor,
		})
	}
}
