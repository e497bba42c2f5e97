package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospitium/hospitium/internal/app"
	"github.com/hospitium/hospitium/internal/audit"
	audithttp "github.com/hospitium/hospitium/internal/audit/http"
	"github.com/hospitium/hospitium/internal/auth"
	"github.com/hospitium/hospitium/internal/catalog"
	"github.com/hospitium/hospitium/internal/guard"
	"github.com/hospitium/hospitium/internal/observability"
	"github.com/hospitium/hospitium/internal/rbac"
	rbachttp "github.com/hospitium/hospitium/internal/rbac/http"
)

const secret = "e2e-secret"

type stack struct {
	t       *testing.T
	handler http.Handler
	audit   *audit.MemoryRepository
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cat, err := catalog.Default()
	require.NoError(t, err)
	repo := rbac.NewCachedRepository(rbac.NewMemoryRepository(), client, time.Minute, logger)
	engine := rbac.NewEngine(cat, repo, rbac.WithLogger(logger))
	_, err = engine.AssignRole(context.Background(), "root", "superadmin", rbac.GlobalScope)
	require.NoError(t, err)

	auditRepo := audit.NewMemoryRepository()
	trail := audit.NewTrail(auditRepo)
	metrics := observability.NewMetrics()
	g := guard.New(guard.Config{Checker: engine, Recorder: trail, Metrics: metrics, Logger: logger})

	verifier, err := auth.NewVerifier(secret, auth.WithLogger(logger))
	require.NoError(t, err)

	handler := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         &app.Config{AppEnv: "test"},
		Authenticate:   verifier.Middleware,
		RBACMiddleware: rbac.Middleware{Engine: engine, Logger: logger},
		Guard:          g,
		RBACHandler:    rbachttp.NewHandler(logger, engine, g),
		AuditHandler:   audithttp.NewHandler(logger, trail),
		Metrics:        metrics,
	})
	return &stack{t: t, handler: handler, audit: auditRepo}
}

func (s *stack) token(subject, tenant string) string {
	s.t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Tenant:   tenant,
		Verified: true,
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(s.t, err)
	return raw
}

func (s *stack) do(method, target, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		payload = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, payload)
	req.RemoteAddr = "198.51.100.7:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *stack) allowed(token, permission string) bool {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/authz/check", token, map[string]string{"permission": permission})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Allowed bool `json:"allowed"`
		Pending bool `json:"pending"`
	}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.False(s.t, out.Pending)
	return out.Allowed
}

func TestGrantCheckAuditRevoke(t *testing.T) {
	s := newStack(t)
	root := s.token("root", "")
	docH1 := s.token("doc", "h1")
	docH2 := s.token("doc", "h2")

	require.False(t, s.allowed(docH1, "patients.read"))

	grant := map[string]string{"principal_id": "doc", "role": "MEDICO", "tenant_id": "h1"}
	rec := s.do(http.MethodPost, "/assignments", root, grant)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.True(t, s.allowed(docH1, "patients.read"))
	assert.False(t, s.allowed(docH2, "patients.read"))
	assert.False(t, s.allowed(docH1, "roles.assign"))

	rec = s.do(http.MethodPost, "/assignments", root, grant)
	require.Equal(t, http.StatusOK, rec.Code)
	var again rbac.AssignResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.True(t, again.AlreadyAssigned)
	assert.Equal(t, "medico", again.Assignment.RoleSlug)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/audit", docH1, nil).Code)

	rec = s.do(http.MethodGet, "/audit?action=roles.assign&resource=assignment:doc", root, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page audit.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.NotEmpty(t, page.Items)
	for _, e := range page.Items {
		assert.Equal(t, "root", e.Actor)
		assert.Equal(t, "h1", e.TenantID)
	}

	rec = s.do(http.MethodDelete, "/assignments", root, grant)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.False(t, s.allowed(docH1, "patients.read"))
}

func TestTenantAdminCannotGrantElsewhere(t *testing.T) {
	s := newStack(t)
	root := s.token("root", "")
	rec := s.do(http.MethodPost, "/assignments", root, map[string]string{"principal_id": "boss", "role": "admin", "tenant_id": "h1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	boss := s.token("boss", "h1")
	before := s.audit.Len()

	rec = s.do(http.MethodPost, "/assignments", boss, map[string]string{"principal_id": "x", "role": "medico", "tenant_id": "h2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodPost, "/assignments", boss, map[string]string{"principal_id": "x", "role": "medico"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodPost, "/assignments", boss, map[string]string{"principal_id": "x", "role": "medico", "tenant_id": "h1"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	assert.Greater(t, s.audit.Len(), before+2)
}

func TestRejectsForgedToken(t *testing.T) {
	s := newStack(t)
	claims := jwt.RegisteredClaims{Subject: "root", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/roles", forged, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/roles", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/roles", s.token("root", ""), nil).Code)
}
