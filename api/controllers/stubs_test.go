package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/piratar/members-sync/internal/inbound"
	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/internal/syncqueue"
	"github.com/piratar/members-sync/pkg/db/models"
)

type stubMembers struct {
	createFn func(ctx context.Context, ssn string, patch members.Patch) (*models.Member, error)
	updateFn func(ctx context.Context, ssn string, patch members.Patch, guard members.Guard) (*models.Member, error)
	deleteFn func(ctx context.Context, ssn string, guard members.Guard) error
	getFn    func(ctx context.Context, ssn string) (*models.Member, error)
}

func (s stubMembers) Create(ctx context.Context, ssn string, patch members.Patch) (*models.Member, error) {
	if s.createFn != nil {
		return s.createFn(ctx, ssn, patch)
	}
	return &models.Member{SSN: ssn}, nil
}

func (s stubMembers) Update(ctx context.Context, ssn string, patch members.Patch, guard members.Guard) (*models.Member, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, ssn, patch, guard)
	}
	return &models.Member{SSN: ssn}, nil
}

func (s stubMembers) Delete(ctx context.Context, ssn string, guard members.Guard) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, ssn, guard)
	}
	return nil
}

func (s stubMembers) Get(ctx context.Context, ssn string) (*models.Member, error) {
	if s.getFn != nil {
		return s.getFn(ctx, ssn)
	}
	return &models.Member{SSN: ssn}, nil
}

func (s stubMembers) List(context.Context, int, string) (*members.ListResult, error) {
	return &members.ListResult{}, nil
}

// stubQueue implements syncqueue.Service; unset methods panic through the nil embed.
type stubQueue struct {
	syncqueue.Service
	changesFn     func(ctx context.Context, since *time.Time, limit int) (*syncqueue.ChangesResult, error)
	markSyncedFn  func(ctx context.Context, ids []int64) (int64, error)
	markPendingFn func(ctx context.Context, ids []int64, reset bool) (int64, error)
	retryFn       func(ctx context.Context, reset bool) (int64, error)
	listFn        func(ctx context.Context, req syncqueue.ListRequest) (*syncqueue.ListResult, error)
}

func (s stubQueue) ChangesSince(ctx context.Context, since *time.Time, limit int) (*syncqueue.ChangesResult, error) {
	return s.changesFn(ctx, since, limit)
}

func (s stubQueue) MarkSynced(ctx context.Context, ids []int64) (int64, error) {
	return s.markSyncedFn(ctx, ids)
}

func (s stubQueue) MarkPending(ctx context.Context, ids []int64, reset bool) (int64, error) {
	return s.markPendingFn(ctx, ids, reset)
}

func (s stubQueue) RetryAllFailed(ctx context.Context, reset bool) (int64, error) {
	return s.retryFn(ctx, reset)
}

func (s stubQueue) List(ctx context.Context, req syncqueue.ListRequest) (*syncqueue.ListResult, error) {
	return s.listFn(ctx, req)
}

type stubApplier struct {
	applyFn func(ctx context.Context, items []inbound.Item) (*inbound.BatchResult, error)
}

func (s stubApplier) Apply(ctx context.Context, items []inbound.Item) (*inbound.BatchResult, error) {
	return s.applyFn(ctx, items)
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	envelope := struct {
		Data any `json:"data"`
	}{Data: dst}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func decodeErrorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return envelope.Error.Code
}
