package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/hospitium/hospitium/internal/rbac"
)

const rateLimit = 10
const rateWindow = time.Minute

// Middleware wraps a route with an access check.
type Middleware = func(http.Handler) http.Handler

// MountRoutes registers the audit query and CSV export endpoints. view and
// export guard the two routes; the export is also rate limited per principal.
func (h *Handler) MountRoutes(r chi.Router, view, export Middleware) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.With(view).Get("/audit", h.handleQuery)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter, export)
		gr.Get("/audit/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if p := rbac.PrincipalFromContext(r.Context()); p.Authenticated() {
		return "principal:" + p.ID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
