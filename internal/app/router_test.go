package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospitium/hospitium/internal/audit"
	audithttp "github.com/hospitium/hospitium/internal/audit/http"
	"github.com/hospitium/hospitium/internal/catalog"
	"github.com/hospitium/hospitium/internal/guard"
	"github.com/hospitium/hospitium/internal/observability"
	"github.com/hospitium/hospitium/internal/rbac"
	rbachttp "github.com/hospitium/hospitium/internal/rbac/http"
	"github.com/hospitium/hospitium/jobs"
)

const principalHeader = "X-Test-Principal"

type routerFixture struct {
	handler http.Handler
	audit   *audit.MemoryRepository
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat, err := catalog.Default()
	require.NoError(t, err)
	engine := rbac.NewEngine(cat, rbac.NewMemoryRepository(), rbac.WithLogger(logger))
	_, err = engine.AssignRole(context.Background(), "aud", "auditor", rbac.GlobalScope)
	require.NoError(t, err)

	auditRepo := audit.NewMemoryRepository()
	trail := audit.NewTrail(auditRepo)
	metrics := observability.NewMetrics()
	g := guard.New(guard.Config{Checker: engine, Recorder: trail, Metrics: metrics, Logger: logger})

	authenticate := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(principalHeader); id != "" {
				ctx = rbac.ContextWithPrincipal(ctx, rbac.Principal{ID: id, Verified: true})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	handler := NewRouter(RouterParams{
		Logger:         logger,
		Config:         &Config{AppEnv: "test"},
		Authenticate:   authenticate,
		RBACMiddleware: rbac.Middleware{Engine: engine, Logger: logger},
		Guard:          g,
		RBACHandler:    rbachttp.NewHandler(logger, engine, g),
		AuditHandler:   audithttp.NewHandler(logger, trail),
		JobHandler:     jobs.NewHandler(nil, logger),
		Metrics:        metrics,
	})
	return routerFixture{handler: handler, audit: auditRepo}
}

func (f routerFixture) do(method, target, principal string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.10:5000"
	if principal != "" {
		req.Header.Set(principalHeader, principal)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthz(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouterAuditRequiresPrincipal(t *testing.T) {
	f := newRouterFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/audit", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/audit", "nurse").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/audit", "aud").Code)
}

func TestRouterExportIsAudited(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodGet, "/audit/export.csv", "aud")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, 1, f.audit.Len())

	rec = f.do(http.MethodGet, "/audit/export.csv", "nurse")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 2, f.audit.Len())
}

func TestRouterRolesAndJobs(t *testing.T) {
	f := newRouterFixture(t)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/roles", "aud").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/jobs/health", "aud").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/jobs/health", "").Code)
}

func TestRouterMetrics(t *testing.T) {
	f := newRouterFixture(t)
	f.do(http.MethodGet, "/healthz", "")

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hospitium_http_requests_total")
}
