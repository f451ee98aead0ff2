package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/piratar/members-sync/api/controllers"
	"github.com/piratar/members-sync/api/middleware"
	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/internal/syncclients"
	"github.com/piratar/members-sync/internal/syncqueue"
	"github.com/piratar/members-sync/pkg/auth/session"
	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/enums"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/redis"
)

// RouterParams carries everything the HTTP surface is wired from. Redis may
// be nil, which disables idempotency replay and token rate limiting.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	Redis          *redis.Client
	Sessions       session.AccessSessionChecker
	Clients        syncclients.Service
	Queue          syncqueue.Service
	Members        members.Service
	Applier        controllers.BatchApplier
	Audit          controllers.AuditLister
	Readiness      []controllers.ReadinessCheck
	MetricsHandler http.Handler
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idempotencyStore redis.IdempotencyStore
		tokenLimiter     func(http.Handler) http.Handler
	)
	tokenPolicy := middleware.NewAuthRateLimitPolicy(
		"token",
		cfg.AuthRateLimit.TokenWindow,
		cfg.AuthRateLimit.TokenIPLimit,
		cfg.AuthRateLimit.TokenClientLimit,
	)
	if p.Redis != nil {
		idempotencyStore = p.Redis
		tokenLimiter = middleware.AuthRateLimit(tokenPolicy, p.Redis, logg)
	} else {
		tokenLimiter = middleware.AuthRateLimit(tokenPolicy, nil, logg)
	}

	metricsHandler := p.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness...))
	})
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/auth", func(r chi.Router) {
		r.With(tokenLimiter).Post("/token", controllers.IssueToken(p.Clients, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Post("/auth/revoke", controllers.RevokeToken(p.Clients, logg))

		r.Route("/sync", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, string(enums.ClientRoleSync), string(enums.ClientRoleAdmin)))
			r.Get("/changes", controllers.SyncChanges(p.Queue, logg))
			r.Post("/apply", controllers.SyncApply(p.Applier, logg))
			r.Post("/mark-synced", controllers.SyncMarkSynced(p.Queue, logg))
			r.Get("/status", controllers.SyncStatus(p.Queue, cfg.Sync.StatusSamples, logg))
			r.Get("/member/{recordKey}", controllers.SyncMember(p.Members, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, string(enums.ClientRoleAdmin)))

			r.Route("/sync", func(r chi.Router) {
				r.Get("/entries", controllers.AdminListEntries(p.Queue, logg))
				r.Get("/entries/{entryId}", controllers.AdminGetEntry(p.Queue, logg))
				r.Post("/entries/mark-pending", controllers.AdminMarkPending(p.Queue, logg))
				r.Post("/entries/mark-synced", controllers.AdminMarkSynced(p.Queue, logg))
				r.Post("/retry-failed", controllers.AdminRetryFailed(p.Queue, logg))
				r.Get("/audit", controllers.AdminListAudit(p.Audit, logg))
			})

			r.Route("/members", func(r chi.Router) {
				r.Get("/", controllers.AdminListMembers(p.Members, logg))
				r.Post("/", controllers.AdminCreateMember(p.Members, logg))
				r.Get("/{recordKey}", controllers.AdminGetMember(p.Members, logg))
				r.Put("/{recordKey}", controllers.AdminUpdateMember(p.Members, logg))
				r.Delete("/{recordKey}", controllers.AdminDeleteMember(p.Members, logg))
			})

			r.Route("/clients", func(r chi.Router) {
				r.Get("/", controllers.AdminListClients(p.Clients, logg))
				r.Post("/", controllers.AdminCreateClient(p.Clients, logg))
				r.Post("/{clientId}/rotate", controllers.AdminRotateClientSecret(p.Clients, logg))
				r.Delete("/{clientId}", controllers.AdminDeleteClient(p.Clients, logg))
			})
		})
	})

	return r
}
