package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/piratar/members-sync/internal/inbound"
	"github.com/piratar/members-sync/internal/syncqueue"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
)

func TestSyncChangesForwardsSinceAndLimit(t *testing.T) {
	since := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	svc := stubQueue{changesFn: func(_ context.Context, got *time.Time, limit int) (*syncqueue.ChangesResult, error) {
		if got == nil || !got.Equal(since) {
			t.Fatalf("unexpected since %v", got)
		}
		if limit != 2 {
			t.Fatalf("unexpected limit %d", limit)
		}
		return &syncqueue.ChangesResult{
			Since: since,
			Count: 1,
			Changes: []models.SyncQueueEntry{{
				ID:            9,
				RecordKey:     "0101302989",
				Action:        enums.SyncActionUpdate,
				ChangedFields: datatypes.JSON(`{"name":"Anna","email":"a@example.is"}`),
				CreatedAt:     since.Add(time.Minute),
			}},
		}, nil
	}}

	req := httptest.NewRequest(http.MethodGet, "/?since=2024-02-01T00:00:00Z&limit=2", nil)
	resp := httptest.NewRecorder()
	SyncChanges(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var payload struct {
		Count   int          `json:"count"`
		Changes []changeView `json:"changes"`
	}
	decodeData(t, resp, &payload)
	if payload.Count != 1 || len(payload.Changes) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Changes[0].SSN != "0101302989" {
		t.Fatalf("unexpected change %+v", payload.Changes[0])
	}
	if got := string(payload.Changes[0].FieldsChanged); got != `{"name":"Anna","email":"a@example.is"}` {
		t.Fatalf("fields_changed lost its key order: %s", got)
	}
}

func TestSyncChangesRejectsLimitAboveMax(t *testing.T) {
	resp := httptest.NewRecorder()
	SyncChanges(stubQueue{}, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/?limit=5001", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestSyncApplyForwardsItems(t *testing.T) {
	applier := stubApplier{applyFn: func(_ context.Context, items []inbound.Item) (*inbound.BatchResult, error) {
		if len(items) != 2 || items[1].Action != "delete" {
			t.Fatalf("unexpected items %+v", items)
		}
		return &inbound.BatchResult{
			Applied:  1,
			Rejected: 1,
			Results: []inbound.ItemResult{
				{Index: 0, RecordKey: items[0].RecordKey, Status: "applied"},
				{Index: 1, RecordKey: items[1].RecordKey, Status: "rejected", Reason: "not found"},
			},
		}, nil
	}}

	req := jsonRequest(t, http.MethodPost, "/", map[string]any{"changes": []map[string]any{
		{"record_key": "0101302989", "action": "update", "fields": map[string]any{"email": "x@example.is"}},
		{"record_key": "0103882369", "action": "delete"},
	}})
	resp := httptest.NewRecorder()
	SyncApply(applier, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var result inbound.BatchResult
	decodeData(t, resp, &result)
	if result.Applied != 1 || result.Rejected != 1 || result.Results[1].Reason != "not found" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSyncApplyEmptyBatchIsValidationError(t *testing.T) {
	applier := stubApplier{applyFn: func(context.Context, []inbound.Item) (*inbound.BatchResult, error) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "changes must not be empty")
	}}
	resp := httptest.NewRecorder()
	SyncApply(applier, nil).ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/", map[string]any{"changes": []any{}}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestSyncMarkSynced(t *testing.T) {
	svc := stubQueue{markSyncedFn: func(_ context.Context, ids []int64) (int64, error) {
		if len(ids) != 3 {
			t.Fatalf("unexpected ids %v", ids)
		}
		return 2, nil
	}}
	resp := httptest.NewRecorder()
	SyncMarkSynced(svc, nil).ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/", map[string]any{"sync_ids": []int64{1, 2, 3}}))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var payload struct {
		Success      bool  `json:"success"`
		MarkedSynced int64 `json:"marked_synced"`
	}
	decodeData(t, resp, &payload)
	if !payload.Success || payload.MarkedSynced != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestSyncMemberRejectsInvalidKey(t *testing.T) {
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "recordKey", "0101302979")
	resp := httptest.NewRecorder()
	SyncMember(stubMembers{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
