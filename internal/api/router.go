package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/entranthq/server/internal/api/handlers"
	"github.com/entranthq/server/internal/api/middleware"
	"github.com/entranthq/server/internal/audit"
	"github.com/entranthq/server/internal/auth"
	"github.com/entranthq/server/internal/config"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/domain/progression"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/entranthq/server/internal/domain/teams"
	"github.com/entranthq/server/internal/gateway"
	"github.com/entranthq/server/internal/metrics"
	"github.com/entranthq/server/internal/notify"
	"github.com/entranthq/server/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
)

// Dependencies carries the process-level collaborators the router wires into
// handlers. The serve command builds them once and owns their lifecycles.
type Dependencies struct {
	Pool        *pgxpool.Pool
	Repo        storage.Repository
	RiverClient *river.Client[pgx.Tx]
	Gateways    *gateway.Registry
	Notifier    *notify.Service
	Version     string
	GitCommit   string
	BuildDate   string
}

func NewRouter(cfg config.Config, logger zerolog.Logger, deps Dependencies) http.Handler {
	repo := deps.Repo

	regService := registrations.NewService(repo.Events(), repo.Teams(), repo.Registrations(), deps.Notifier,
		registrations.WithIdempotencyStore(repo.RegistrationIdempotency()))
	teamService := teams.NewService(repo.Teams())
	payService := payments.NewService(repo.Events(), repo.Registrations(), repo.Payments(), repo.Refunds(), repo.Webhooks(), deps.Gateways, deps.Notifier)
	progressService := progression.NewService(repo.Events(), repo.Teams(), repo.Registrations(), deps.Notifier)

	env := cfg.Environment
	regHandler := handlers.NewRegistrationsHandler(regService, env)
	payHandler := handlers.NewPaymentsHandler(payService, env)
	webhookHandler := handlers.NewWebhooksHandler(payService, env)
	teamHandler := handlers.NewTeamsHandler(teamService, env)
	roundHandler := handlers.NewRoundsHandler(progressService, repo.Events(), env)
	eventHandler := handlers.NewEventsHandler(repo.Events(), env)
	healthChecker := handlers.NewHealthChecker(deps.Pool, deps.RiverClient, deps.Version, deps.GitCommit)

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, "entrant")
	bearer := middleware.BearerAuth(jwtManager)
	limit := middleware.RateLimit(cfg.RateLimit)
	auditLog := middleware.AuditStaff(audit.NewLogger(logger))

	// The limiter picks its tier from the request context, so tier setters
	// wrap outside it.
	public := func(h http.Handler) http.Handler { return limit(h) }
	authed := func(h http.Handler) http.Handler { return limit(bearer(h)) }
	staff := func(h http.Handler) http.Handler {
		return middleware.WithRateLimitTierHandler(middleware.TierStaff)(limit(bearer(middleware.RequireStaff(auditLog(h)))))
	}
	webhook := middleware.WithRateLimitTierHandler(middleware.TierWebhook)(
		limit(middleware.WebhookRequestSize()(http.HandlerFunc(webhookHandler.Handle))))

	mux := http.NewServeMux()
	mux.Handle("/healthz", handlers.Healthz())
	mux.Handle("/readyz", handlers.Readyz())
	mux.Handle("/health", healthChecker.Health())
	mux.Handle("/version", VersionHandler(deps.Version, deps.GitCommit, deps.BuildDate))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.Handle("/api/v1/events/{id}", methodMux(map[string]http.Handler{
		http.MethodGet: public(http.HandlerFunc(eventHandler.Get)),
	}))

	mux.Handle("/api/v1/registrations", methodMux(map[string]http.Handler{
		http.MethodPost: authed(middleware.Idempotency(http.HandlerFunc(regHandler.Register))),
	}))
	mux.Handle("/api/v1/registrations/{id}", methodMux(map[string]http.Handler{
		http.MethodGet:    authed(http.HandlerFunc(regHandler.Get)),
		http.MethodDelete: authed(http.HandlerFunc(regHandler.Cancel)),
	}))
	mux.Handle("/api/v1/registrations/{id}/status", methodMux(map[string]http.Handler{
		http.MethodPatch: staff(http.HandlerFunc(regHandler.UpdateStatus)),
	}))
	mux.Handle("/api/v1/registrations/{id}/checkin", methodMux(map[string]http.Handler{
		http.MethodPost: staff(http.HandlerFunc(regHandler.CheckIn)),
	}))

	mux.Handle("/api/v1/payments", methodMux(map[string]http.Handler{
		// Initiate is idempotent per registration on its own (a pending
		// intent is reused), so no key capture here.
		http.MethodPost: authed(http.HandlerFunc(payHandler.Initiate)),
	}))
	mux.Handle("/api/v1/payments/{id}", methodMux(map[string]http.Handler{
		http.MethodGet: authed(http.HandlerFunc(payHandler.Get)),
	}))
	mux.Handle("/api/v1/payments/{id}/verify", methodMux(map[string]http.Handler{
		http.MethodPost: authed(http.HandlerFunc(payHandler.Verify)),
	}))

	mux.Handle("/api/v1/refunds/{id}", methodMux(map[string]http.Handler{
		http.MethodGet: staff(http.HandlerFunc(payHandler.GetRefund)),
	}))
	mux.Handle("/api/v1/refunds/{id}/process", methodMux(map[string]http.Handler{
		http.MethodPost: staff(http.HandlerFunc(payHandler.ProcessRefund)),
	}))

	mux.Handle("/api/v1/webhooks/{gateway}", methodMux(map[string]http.Handler{
		http.MethodPost: webhook,
	}))

	mux.Handle("/api/v1/teams", methodMux(map[string]http.Handler{
		http.MethodPost: authed(http.HandlerFunc(teamHandler.Create)),
	}))
	mux.Handle("/api/v1/teams/{id}", methodMux(map[string]http.Handler{
		http.MethodGet: authed(http.HandlerFunc(teamHandler.Get)),
	}))
	mux.Handle("/api/v1/teams/{id}/members", methodMux(map[string]http.Handler{
		http.MethodPost: authed(http.HandlerFunc(teamHandler.Join)),
	}))
	mux.Handle("/api/v1/teams/{id}/members/{userID}", methodMux(map[string]http.Handler{
		http.MethodDelete: authed(http.HandlerFunc(teamHandler.RemoveMember)),
	}))
	mux.Handle("/api/v1/teams/{id}/leader", methodMux(map[string]http.Handler{
		http.MethodPost: authed(http.HandlerFunc(teamHandler.TransferLeadership)),
	}))
	mux.Handle("/api/v1/teams/{id}/lock", methodMux(map[string]http.Handler{
		http.MethodPost: authed(http.HandlerFunc(teamHandler.Lock)),
	}))
	mux.Handle("/api/v1/teams/{id}/unlock", methodMux(map[string]http.Handler{
		http.MethodPost: authed(http.HandlerFunc(teamHandler.Unlock)),
	}))
	mux.Handle("/api/v1/teams/{id}/disband", methodMux(map[string]http.Handler{
		http.MethodPost: authed(http.HandlerFunc(teamHandler.Disband)),
	}))

	mux.Handle("/api/v1/events/{id}/rounds/progress", methodMux(map[string]http.Handler{
		http.MethodPost: staff(http.HandlerFunc(roundHandler.Progress)),
	}))
	mux.Handle("/api/v1/events/{id}/rounds/repair", methodMux(map[string]http.Handler{
		http.MethodPost: staff(http.HandlerFunc(roundHandler.RepairRounds)),
	}))
	mux.Handle("/api/v1/events/{id}/rounds/{number}/status", methodMux(map[string]http.Handler{
		http.MethodPatch: staff(http.HandlerFunc(roundHandler.SetStatus)),
	}))

	var handler http.Handler = mux
	handler = middleware.PublicRequestSize()(handler)
	handler = middleware.SecurityHeaders(cfg.Environment == "production")(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.RequestLogging(logger)(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.CorrelationID(logger)(handler)
	return handler
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
