package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/piratar/members-sync/api/responses"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/logger"
)

// maxTokenRequestBody caps how much of a token request is buffered to find
// its client_id.
const maxTokenRequestBody = 16 << 10

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// AuthRateLimitPolicy throttles credential guessing on one endpoint: attempts
// are counted per source IP and per submitted client_id within a fixed window.
type AuthRateLimitPolicy struct {
	name        string
	window      time.Duration
	ipLimit     int
	clientLimit int
}

func NewAuthRateLimitPolicy(name string, window time.Duration, ipLimit, clientLimit int) AuthRateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "auth"
	}
	return AuthRateLimitPolicy{name: name, window: window, ipLimit: ipLimit, clientLimit: clientLimit}
}

func (p AuthRateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.clientLimit > 0)
}

type limitCheck struct {
	dimension string
	subject   string
	limit     int
}

// AuthRateLimit rejects requests over either limit with 429 and a
// Retry-After of one window. A nil store disables limiting.
func AuthRateLimit(policy AuthRateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var checks []limitCheck
			if policy.ipLimit > 0 {
				if ip := clientIP(r); ip != "" {
					checks = append(checks, limitCheck{dimension: "ip", subject: ip, limit: policy.ipLimit})
				}
			}
			if policy.clientLimit > 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxTokenRequestBody))
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				if clientID := tokenClientID(body); clientID != "" {
					// hashed so raw client ids never land in redis or logs
					checks = append(checks, limitCheck{dimension: "client", subject: hashValue(clientID), limit: policy.clientLimit})
				}
			}

			for _, check := range checks {
				key := store.RateLimitKey(policy.name + ":" + check.dimension + ":" + check.subject)
				count, err := store.IncrWithTTL(ctx, key, policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if count > int64(check.limit) {
					rejectRateLimited(ctx, logg, w, policy, check, count)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy AuthRateLimitPolicy, check limitCheck, count int64) {
	retryAfter := int(policy.window.Round(time.Second) / time.Second)
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"policy":      policy.name,
			"dimension":   check.dimension,
			"subject":     check.subject,
			"attempts":    count,
			"limit":       check.limit,
			"retry_after": retryAfter,
		})
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many token requests, retry later").
		WithDetails(map[string]any{"retry_after_seconds": retryAfter}))
}

// clientIP returns the first parseable address of X-Forwarded-For, then
// X-Real-IP, then the connection's remote address.
func clientIP(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
			return addr.Unmap().String()
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// tokenClientID pulls client_id out of a JSON token request.
func tokenClientID(payload []byte) string {
	var body struct {
		ClientID string `json:"client_id"`
	}
	if json.Unmarshal(payload, &body) != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(body.ClientID))
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
