package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/piratar/members-sync/api/responses"
	"github.com/piratar/members-sync/api/validators"
	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/pagination"
)

const dateLayout = "2006-01-02"

// memberFields is the writable member surface. An empty birthday clears it.
type memberFields struct {
	Name             *string `json:"name" validate:"omitempty,max=200"`
	Birthday         *string `json:"birthday"`
	Gender           *string `json:"gender"`
	HousingSituation *string `json:"housing_situation"`
	Email            *string `json:"email" validate:"omitempty,max=254"`
	Phone            *string `json:"phone"`
	StreetAddress    *string `json:"street_address" validate:"omitempty,max=200"`
	PostalCode       *string `json:"postal_code" validate:"omitempty,max=10"`
	City             *string `json:"city" validate:"omitempty,max=100"`
	Reachable        *bool   `json:"reachable"`
	Groupable        *bool   `json:"groupable"`
	DateJoined       *string `json:"date_joined"`
}

type createMemberRequest struct {
	SSN string `json:"ssn" validate:"required,kennitala"`
	memberFields
}

type updateMemberRequest struct {
	memberFields
	NotAfter *time.Time `json:"not_after"`
}

func (f memberFields) patch() (members.Patch, error) {
	p := members.Patch{
		Name:          f.Name,
		Email:         f.Email,
		Phone:         f.Phone,
		StreetAddress: f.StreetAddress,
		PostalCode:    f.PostalCode,
		City:          f.City,
		Reachable:     f.Reachable,
		Groupable:     f.Groupable,
	}
	if f.Birthday != nil {
		raw := strings.TrimSpace(*f.Birthday)
		if raw == "" {
			p.ClearBirthday = true
		} else {
			b, err := time.Parse(dateLayout, raw)
			if err != nil {
				return p, fieldError("birthday", "must be YYYY-MM-DD")
			}
			p.Birthday = &b
		}
	}
	if f.DateJoined != nil {
		joined, err := parseDateOrTimestamp(*f.DateJoined)
		if err != nil {
			return p, fieldError("date_joined", "must be YYYY-MM-DD or RFC3339")
		}
		p.DateJoined = &joined
	}
	if f.Gender != nil {
		g, err := enums.ParseGender(*f.Gender)
		if err != nil {
			return p, fieldError("gender", err.Error())
		}
		p.Gender = &g
	}
	if f.HousingSituation != nil {
		h, err := enums.ParseHousingSituation(*f.HousingSituation)
		if err != nil {
			return p, fieldError("housing_situation", err.Error())
		}
		p.HousingSituation = &h
	}
	return p, nil
}

func parseDateOrTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func fieldError(field, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(map[string]string{field: msg})
}

func AdminListMembers(svc members.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "members service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.List(r.Context(), limit, strings.TrimSpace(r.URL.Query().Get("cursor")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]memberView, 0, len(result.Items))
		for i := range result.Items {
			items = append(items, toMemberView(&result.Items[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": result.Cursor,
		})
	}
}

func AdminCreateMember(svc members.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "members service unavailable"))
			return
		}

		var req createMemberRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patch, err := req.patch()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		member, err := svc.Create(r.Context(), req.SSN, patch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toMemberView(member))
	}
}

func AdminGetMember(svc members.Service, logg *logger.Logger) http.HandlerFunc {
	return SyncMember(svc, logg)
}

// AdminUpdateMember applies a partial update. not_after turns a concurrent
// change into a 409.
func AdminUpdateMember(svc members.Service, logg *logger.Logger) http.HandlerFunc {
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
		var req updateMemberRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patch, err := req.patch()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		member, err := svc.Update(r.Context(), key, patch, members.Guard{NotAfter: req.NotAfter})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toMemberView(member))
	}
}

func AdminDeleteMember(svc members.Service, logg *logger.Logger) http.HandlerFunc {
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
		notAfter, err := validators.ParseQueryTime(r, "not_after")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), key, members.Guard{NotAfter: notAfter}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"deleted": true, "ssn": key})
	}
}
