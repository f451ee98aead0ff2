package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/piratar/members-sync/api/responses"
	pkgAuth "github.com/piratar/members-sync/pkg/auth"
	"github.com/piratar/members-sync/pkg/auth/session"
	"github.com/piratar/members-sync/pkg/config"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/logger"
)

// Auth admits requests carrying a valid bearer token whose session is still
// live and owned by the client named in the token. sessions may be nil, which
// skips the revocation check.
func Auth(cfg config.JWTConfig, sessions session.AccessSessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reject := func(err *pkgerrors.Error) {
				if err.Code() == pkgerrors.CodeUnauthorized {
					w.Header().Set("WWW-Authenticate", `Bearer realm="members-sync"`)
				}
				responses.WriteError(ctx, logg, w, err)
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				reject(pkgerrors.New(pkgerrors.CodeUnauthorized, "missing bearer token"))
				return
			}
			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				reject(pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			if sessions != nil {
				owner, err := sessions.Owner(ctx, claims.ID)
				switch {
				case errors.Is(err, session.ErrUnknownSession):
					reject(pkgerrors.New(pkgerrors.CodeUnauthorized, "token revoked or expired"))
					return
				case err != nil:
					reject(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session"))
					return
				case owner != claims.ClientID.String():
					reject(pkgerrors.New(pkgerrors.CodeUnauthorized, "token does not match its session"))
					return
				}
			}

			id := Identity{
				ClientID:   claims.ClientID.String(),
				ClientName: claims.ClientName,
				Role:       string(claims.Role),
				TokenID:    claims.ID,
			}
			ctx = WithIdentity(ctx, id)
			if logg != nil {
				ctx = logg.WithFields(logg.WithClientID(ctx, id.ClientID), map[string]any{
					"client_name": id.ClientName,
					"actor_role":  id.Role,
				})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the credentials of an RFC 6750 Authorization header.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
