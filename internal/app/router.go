package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/buildmat/buildmat/internal/auth"
	"github.com/buildmat/buildmat/internal/delivery"
	"github.com/buildmat/buildmat/internal/intent"
	"github.com/buildmat/buildmat/internal/masterdata/sites"
	"github.com/buildmat/buildmat/internal/notify"
	"github.com/buildmat/buildmat/internal/observability"
	"github.com/buildmat/buildmat/internal/shared"
	"github.com/buildmat/buildmat/internal/transfer"
	"github.com/buildmat/buildmat/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger      *slog.Logger
	Config      *Config
	Auth        auth.Middleware
	Idempotency *shared.IdempotencyStore

	AuthHandler     *auth.Handler
	SitesHandler    *sites.Handler
	IntentHandler   *intent.Handler
	TransferHandler *transfer.Handler
	DeliveryHandler *delivery.Handler
	NotifyHandler   *notify.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router for the logistics API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:      params.Logger,
		Config:      params.Config,
		Auth:        params.Auth,
		Idempotency: params.Idempotency,
		Metrics:     params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	adminOnly := params.Auth.RequireRole(shared.RoleAdmin)

	r.Route("/api", func(r chi.Router) {
		params.AuthHandler.MountPublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(params.Auth.RequireAuth)

			params.AuthHandler.MountRoutes(r)
			params.NotifyHandler.MountRoutes(r)
			r.Route("/sites", params.SitesHandler.MountRoutes)
			r.Route("/purchase-orders", params.IntentHandler.MountRoutes)
			r.Route("/site-transfers", func(r chi.Router) {
				params.TransferHandler.MountRoutes(r, adminOnly)
			})
			r.Route("/deliveries", func(r chi.Router) {
				params.DeliveryHandler.MountRoutes(r, adminOnly)
			})
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}
