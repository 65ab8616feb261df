package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/observability"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handler is the HTTP adapter entrypoint for account use-cases.
type Handler struct {
	service *application.Service
	metrics *observability.Metrics
	checks  map[string]ReadinessCheck
}

// NewHandler constructs an HTTP handler bound to the application service.
func NewHandler(service *application.Service, metrics *observability.Metrics, checks map[string]ReadinessCheck) *Handler {
	return &Handler{service: service, metrics: metrics, checks: checks}
}

// NewRouter registers the account service routes. metricsHandler is mounted at
// /metrics when non-nil.
func NewRouter(handler *Handler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(handler.observeMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	r.Get("/.well-known/jwks.json", handler.jwks)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Post("/oauth/token", handler.token)
	r.With(handler.authMiddleware).Post("/oauth/revoke-all", handler.revokeAll)

	r.Route("/accounts/v1", func(r chi.Router) {
		r.Post("/register", handler.register)
		r.Post("/email/verify", handler.emailVerify)
		r.Post("/password/reset-request", handler.passwordResetRequest)
		r.Post("/password/reset", handler.passwordReset)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Get("/me", handler.me)
			r.Post("/password/change", handler.passwordChange)
		})
	})

	r.Route("/admin/v1/accounts/{account_id}", func(r chi.Router) {
		r.Use(handler.authMiddleware)
		r.Post("/unlock", handler.unlockAccount)
		r.Post("/disable", handler.disableAccount)
		r.Post("/permissions", handler.grantPermission)
		r.Delete("/permissions/{permission}", handler.revokePermission)
	})

	r.Post("/webhooks/v1/email/{provider}", handler.emailWebhook)

	return r
}
