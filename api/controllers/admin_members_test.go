package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
)

func TestAdminCreateMemberParsesFields(t *testing.T) {
	var gotSSN string
	var gotPatch members.Patch
	svc := stubMembers{
		createFn: func(_ context.Context, ssn string, patch members.Patch) (*models.Member, error) {
			gotSSN = ssn
			gotPatch = patch
			birthday := *patch.Birthday
			return &models.Member{
				SSN:              ssn,
				Name:             *patch.Name,
				Birthday:         &birthday,
				Gender:           *patch.Gender,
				HousingSituation: *patch.HousingSituation,
				DateJoined:       *patch.DateJoined,
			}, nil
		},
	}

	req := jsonRequest(t, http.MethodPost, "/", map[string]any{
		"ssn":               "0101302989",
		"name":              "Jón Jónsson",
		"birthday":          "1930-01-01",
		"gender":            "male",
		"housing_situation": "2",
		"date_joined":       "2020-05-17T10:00:00+02:00",
	})
	resp := httptest.NewRecorder()
	AdminCreateMember(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if gotSSN != "0101302989" {
		t.Fatalf("unexpected ssn %q", gotSSN)
	}
	if gotPatch.Gender == nil || *gotPatch.Gender != enums.GenderMale {
		t.Fatalf("gender not parsed: %v", gotPatch.Gender)
	}
	if gotPatch.HousingSituation == nil || *gotPatch.HousingSituation != enums.HousingSituation(2) {
		t.Fatalf("housing not parsed: %v", gotPatch.HousingSituation)
	}
	if want := time.Date(2020, 5, 17, 8, 0, 0, 0, time.UTC); !gotPatch.DateJoined.Equal(want) {
		t.Fatalf("unexpected date_joined %v", gotPatch.DateJoined)
	}

	var view memberView
	decodeData(t, resp, &view)
	if view.Gender != "male" || view.Birthday == nil || *view.Birthday != "1930-01-01" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestAdminCreateMemberRejectsInvalidInput(t *testing.T) {
	cases := map[string]map[string]any{
		"bad checksum":  {"ssn": "0101302979", "name": "X"},
		"missing ssn":   {"name": "X"},
		"bad birthday":  {"ssn": "0101302989", "birthday": "01.01.1930"},
		"bad gender":    {"ssn": "0101302989", "gender": "robot"},
		"unknown field": {"ssn": "0101302989", "nickname": "J"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			called := false
			svc := stubMembers{createFn: func(context.Context, string, members.Patch) (*models.Member, error) {
				called = true
				return &models.Member{}, nil
			}}
			resp := httptest.NewRecorder()
			AdminCreateMember(svc, nil).ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/", body))
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", resp.Code)
			}
			if called {
				t.Fatal("service should not be called")
			}
		})
	}
}

func TestAdminUpdateMemberClearsBirthdayAndForwardsGuard(t *testing.T) {
	notAfter := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var gotPatch members.Patch
	var gotGuard members.Guard
	svc := stubMembers{updateFn: func(_ context.Context, ssn string, patch members.Patch, guard members.Guard) (*models.Member, error) {
		gotPatch, gotGuard = patch, guard
		return &models.Member{SSN: ssn}, nil
	}}

	req := jsonRequest(t, http.MethodPut, "/", map[string]any{"birthday": "", "not_after": notAfter})
	req = withURLParam(req, "recordKey", "010130-2989")
	resp := httptest.NewRecorder()
	AdminUpdateMember(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if !gotPatch.ClearBirthday || gotPatch.Birthday != nil {
		t.Fatalf("expected birthday clear, got %+v", gotPatch)
	}
	if gotGuard.NotAfter == nil || !gotGuard.NotAfter.Equal(notAfter) {
		t.Fatalf("guard not forwarded: %+v", gotGuard)
	}
}

func TestAdminUpdateMemberConflict(t *testing.T) {
	svc := stubMembers{updateFn: func(context.Context, string, members.Patch, members.Guard) (*models.Member, error) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "member changed since not_after")
	}}
	req := withURLParam(jsonRequest(t, http.MethodPut, "/", map[string]any{"name": "Anna"}), "recordKey", "0101302989")
	resp := httptest.NewRecorder()
	AdminUpdateMember(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != string(pkgerrors.CodeConflict) {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestAdminDeleteMemberParsesNotAfter(t *testing.T) {
	var gotKey string
	var gotGuard members.Guard
	svc := stubMembers{deleteFn: func(_ context.Context, ssn string, guard members.Guard) error {
		gotKey, gotGuard = ssn, guard
		return nil
	}}

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/?not_after=2024-06-01T00:00:00Z", nil), "recordKey", "0506002030")
	resp := httptest.NewRecorder()
	AdminDeleteMember(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if gotKey != "0506002030" || gotGuard.NotAfter == nil {
		t.Fatalf("unexpected delete call %q %+v", gotKey, gotGuard)
	}

	bad := withURLParam(httptest.NewRequest(http.MethodDelete, "/?not_after=yesterday", nil), "recordKey", "0506002030")
	resp = httptest.NewRecorder()
	AdminDeleteMember(svc, nil).ServeHTTP(resp, bad)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
