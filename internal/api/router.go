// Package api assembles the HTTP surfaces of the gateway and storage
// services.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/passvault/internal/api/handlers"
	"github.com/Togather-Foundation/passvault/internal/api/middleware"
	"github.com/Togather-Foundation/passvault/internal/audit"
	"github.com/Togather-Foundation/passvault/internal/auth"
	"github.com/Togather-Foundation/passvault/internal/config"
	"github.com/Togather-Foundation/passvault/internal/metrics"
	"github.com/Togather-Foundation/passvault/internal/storage"
)

const (
	ServiceGateway = "gateway"
	ServiceStorage = "storage"
)

// Router is an assembled service handler. Close releases background
// resources such as the rate limiter's cleanup goroutine.
type Router struct {
	http.Handler
	closers []func()
}

func (r *Router) Close() {
	for _, c := range r.closers {
		c()
	}
}

type GatewayDeps struct {
	Config    config.Config
	Logger    zerolog.Logger
	Passwords handlers.PasswordService
	Health    *handlers.HealthChecker
	Build     BuildInfo
}

// NewGatewayRouter serves the public credential API. Clients are not
// authenticated here; the master key gates each secret.
func NewGatewayRouter(d GatewayDeps) *Router {
	env := d.Config.Environment
	h := handlers.NewPasswordsHandler(d.Passwords, env)
	h.Audit = audit.NewLogger(d.Logger)

	mux := http.NewServeMux()
	registerOps(mux, ServiceGateway, d.Health, d.Build)

	mux.HandleFunc("POST /api/v1/passwords", h.Create)
	mux.HandleFunc("GET /api/v1/passwords", h.List)
	mux.HandleFunc("GET /api/v1/passwords/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/passwords/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/passwords/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/passwords/{id}/decrypt", h.Decrypt)

	rateLimit, stop := middleware.RateLimit(d.Config.RateLimit, env)
	return &Router{
		Handler: chain(mux, common(d.Config, d.Logger, rateLimit)...),
		closers: []func(){stop},
	}
}

type StorageDeps struct {
	Config config.Config
	Logger zerolog.Logger
	Repo   storage.Repository
	// EntriesGuard protects the credential rows: an API-key guard or a
	// token validator, depending on the configured auth mode.
	EntriesGuard auth.Guard
	// AuditGuard protects the audit log. It is always the shared secret.
	AuditGuard auth.Guard
	Health     *handlers.HealthChecker
	Build      BuildInfo
}

// NewStorageRouter serves persisted entries and the audit log to the
// gateway. Every data route requires authentication.
func NewStorageRouter(d StorageDeps) *Router {
	env := d.Config.Environment
	entries := handlers.NewEntriesHandler(d.Repo.Entries(), env)
	auditEvents := handlers.NewAuditHandler(d.Repo.Audit(), env)

	mux := http.NewServeMux()
	registerOps(mux, ServiceStorage, d.Health, d.Build)

	guarded := middleware.RequireAuth(d.EntriesGuard, env)
	mux.Handle("GET /api/v1/storage/password_manager", guarded(http.HandlerFunc(entries.List)))
	mux.Handle("POST /api/v1/storage/password_manager", guarded(http.HandlerFunc(entries.Create)))
	mux.Handle("GET /api/v1/storage/password_manager/{id}", guarded(http.HandlerFunc(entries.Get)))
	mux.Handle("PUT /api/v1/storage/password_manager/{id}", guarded(http.HandlerFunc(entries.Update)))
	mux.Handle("DELETE /api/v1/storage/password_manager/{id}", guarded(http.HandlerFunc(entries.Delete)))

	auditOnly := middleware.RequireAuth(d.AuditGuard, env)
	mux.Handle("GET /api/v1/audit/password-events", auditOnly(http.HandlerFunc(auditEvents.List)))
	mux.Handle("GET /api/v1/audit/password-events/stats/summary", auditOnly(http.HandlerFunc(auditEvents.Stats)))
	mux.Handle("GET /api/v1/audit/password-events/{eventId}", auditOnly(http.HandlerFunc(auditEvents.Get)))

	return &Router{Handler: chain(mux, common(d.Config, d.Logger, nil)...)}
}

func registerOps(mux *http.ServeMux, service string, health *handlers.HealthChecker, build BuildInfo) {
	if health == nil {
		health = handlers.NewHealthChecker(service, build.withDefaults().Version, build.GitCommit)
	}
	mux.Handle("GET /healthz", handlers.Healthz())
	mux.Handle("GET /readyz", health.Ready())
	mux.Handle("GET /health", health.Health())
	mux.Handle("GET /version", VersionHandler(service, build))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
}

// common returns the shared middleware stack, outermost first. Nothing
// between Tracing and the mux may replace the request, since Tracing and
// the metrics middleware read the matched pattern back from it.
func common(cfg config.Config, logger zerolog.Logger, rateLimit func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		middleware.CorrelationID(logger),
		middleware.Tracing,
		middleware.RequestLogging(logger),
		metrics.HTTPMiddleware,
		middleware.SecurityHeaders(cfg.IsProduction()),
	}
	if rateLimit != nil {
		stack = append(stack, rateLimit)
	}
	return append(stack, middleware.RequestSize(middleware.DefaultMaxBodySize, cfg.Environment))
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
