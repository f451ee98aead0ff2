package controllers

import (
	"net/http"

	"github.com/piratar/members-sync/api/middleware"
	"github.com/piratar/members-sync/api/responses"
	"github.com/piratar/members-sync/api/validators"
	"github.com/piratar/members-sync/internal/syncclients"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/logger"
)

// IssueToken exchanges client credentials for a bearer token.
func IssueToken(svc syncclients.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "token service unavailable"))
			return
		}

		var req syncclients.TokenRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp, err := svc.IssueToken(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccess(w, resp)
	}
}

// RevokeToken ends the caller's own session.
func RevokeToken(svc syncclients.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "token service unavailable"))
			return
		}

		jti := middleware.TokenIDFromContext(r.Context())
		if jti == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session id"))
			return
		}
		if err := svc.RevokeToken(r.Context(), jti); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"revoked": true})
	}
}
