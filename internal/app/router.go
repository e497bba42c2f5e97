package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/hospitium/hospitium/internal/audit/http"
	"github.com/hospitium/hospitium/internal/guard"
	"github.com/hospitium/hospitium/internal/observability"
	"github.com/hospitium/hospitium/internal/rbac"
	rbachttp "github.com/hospitium/hospitium/internal/rbac/http"
	"github.com/hospitium/hospitium/internal/shared"
	"github.com/hospitium/hospitium/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Authenticate   func(http.Handler) http.Handler
	RBACMiddleware rbac.Middleware
	Guard          *guard.Guard
	RBACHandler    *rbachttp.Handler
	AuditHandler   *audithttp.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Hospitium defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:       params.Logger,
		Config:       params.Config,
		Metrics:      params.Metrics,
		Authenticate: params.Authenticate,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.RBACHandler != nil {
		params.RBACHandler.MountRoutes(r)
	}
	if params.AuditHandler != nil {
		view := params.RBACMiddleware.RequireAny(shared.PermAuditView)
		var export audithttp.Middleware = params.RBACMiddleware.RequireAny(shared.PermAuditExport)
		if params.Guard != nil {
			export = params.Guard.Require(shared.PermAuditExport, "audit.export", nil)
		}
		params.AuditHandler.MountRoutes(r, view, export)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(jr chi.Router) {
			jr.Use(params.RBACMiddleware.RequireAny(shared.PermAuditView))
			params.JobHandler.MountRoutes(jr)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
