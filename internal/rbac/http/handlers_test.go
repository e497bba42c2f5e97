package rbachttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospitium/hospitium/internal/audit"
	"github.com/hospitium/hospitium/internal/catalog"
	"github.com/hospitium/hospitium/internal/guard"
	"github.com/hospitium/hospitium/internal/rbac"
)

type fixture struct {
	router http.Handler
	engine *rbac.Engine
	trail  *audit.Trail
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cat, err := catalog.New([]catalog.Role{
		{Slug: "admin", Name: "Administración", Level: 80, Permissions: []catalog.Permission{"roles.view", "roles.assign"}},
		{Slug: "mesa_entrada", Name: "Mesa de Entrada", Level: 20, Aliases: []string{"mesa de entradas"}, Permissions: []catalog.Permission{"admissions.create"}},
	})
	require.NoError(t, err)
	engine := rbac.NewEngine(cat, rbac.NewMemoryRepository())
	ctx := context.Background()
	_, err = engine.AssignRole(ctx, "global-admin", "admin", rbac.GlobalScope)
	require.NoError(t, err)
	_, err = engine.AssignRole(ctx, "t1-admin", "admin", "t1")
	require.NoError(t, err)

	trail := audit.NewTrail(audit.NewMemoryRepository())
	g := guard.New(guard.Config{Checker: engine, Recorder: trail})

	r := chi.NewRouter()
	NewHandler(nil, engine, g).MountRoutes(r)
	return fixture{router: r, engine: engine, trail: trail}
}

func (fx fixture) do(t *testing.T, method, target, principal, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	ctx := req.Context()
	if principal != "" {
		ctx = rbac.ContextWithPrincipal(ctx, rbac.Principal{ID: principal})
	}
	ctx = rbac.ContextWithTenant(ctx, tenant)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestListRoles(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/roles", "global-admin", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Roles []roleResponse `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Roles, 2)
	assert.Equal(t, "admin", body.Roles[0].Slug)

	rec = fx.do(t, http.MethodGet, "/roles", "nobody", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = fx.do(t, http.MethodGet, "/roles", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAssignCreatesThenReportsExisting(t *testing.T) {
	fx := newFixture(t)
	body := map[string]string{"principal_id": "u-9", "role": "Mesa de Entradas", "tenant_id": "t1"}

	rec := fx.do(t, http.MethodPost, "/assignments", "t1-admin", "t1", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first rbac.AssignResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.AlreadyAssigned)
	assert.Equal(t, "mesa-entrada", first.Assignment.RoleSlug)

	rec = fx.do(t, http.MethodPost, "/assignments", "t1-admin", "t1", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var second rbac.AssignResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.AlreadyAssigned)

	ok, err := fx.engine.HasRole(context.Background(), rbac.Principal{ID: "u-9"}, "mesa_entrada", "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	page, err := fx.trail.Query(context.Background(), audit.Filters{Action: "roles.assign", TenantID: "t1"}, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 4, page.Pagination.Total, "two decisions and two outcomes")
}

func TestAssignIsScopedToActorTenant(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/assignments", "t1-admin", "t1", map[string]string{"principal_id": "u-9", "role": "admin", "tenant_id": "t2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient privileges")

	rec = fx.do(t, http.MethodPost, "/assignments", "t1-admin", "t1", map[string]string{"principal_id": "u-9", "role": "admin"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "a tenant admin cannot grant globally")

	rec = fx.do(t, http.MethodPost, "/assignments", "global-admin", "", map[string]string{"principal_id": "u-9", "role": "admin", "tenant_id": "t2"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	page, err := fx.trail.Query(context.Background(), audit.Filters{Actor: "t1-admin"}, 1, 50)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	for _, e := range page.Items {
		assert.Equal(t, guard.DecisionDenied, e.Metadata["decision"])
	}
}

func TestAssignValidation(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/assignments", "global-admin", "", map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodPost, "/assignments", "global-admin", "", map[string]string{"principal_id": "u-1", "role": "jefe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodPost, "/assignments", "global-admin", "", map[string]any{"principal_id": "u-1", "role": "admin", "extra": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevoke(t *testing.T) {
	fx := newFixture(t)
	body := map[string]string{"principal_id": "u-9", "role": "mesa_entrada", "tenant_id": "t1"}

	rec := fx.do(t, http.MethodDelete, "/assignments", "t1-admin", "t1", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/assignments", "t1-admin", "t1", body).Code)
	rec = fx.do(t, http.MethodDelete, "/assignments", "t1-admin", "t1", body)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ok, err := fx.engine.HasRole(context.Background(), rbac.Principal{ID: "u-9"}, "mesa_entrada", "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEffectivePermissions(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.engine.AssignRole(context.Background(), "u-9", "mesa_entrada", "t1")
	require.NoError(t, err)

	rec := fx.do(t, http.MethodGet, "/principals/u-9/permissions?tenant=t1", "global-admin", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body permissionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []catalog.Permission{"admissions.create"}, body.Permissions)

	rec = fx.do(t, http.MethodGet, "/principals/u-9/permissions", "global-admin", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Permissions)

	rec = fx.do(t, http.MethodGet, "/principals/u-9/permissions?tenant=t2", "t1-admin", "t1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheck(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.engine.AssignRole(context.Background(), "u-9", "mesa_entrada", "t1")
	require.NoError(t, err)

	rec := fx.do(t, http.MethodPost, "/authz/check", "u-9", "t1", map[string]string{"permission": "admissions.create"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"allowed":true,"pending":false}`, rec.Body.String())

	rec = fx.do(t, http.MethodPost, "/authz/check", "u-9", "t1", map[string]string{"permission": "roles.assign"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"allowed":false,"pending":false}`, rec.Body.String())

	rec = fx.do(t, http.MethodPost, "/authz/check", "", "", map[string]string{"permission": "roles.assign"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do(t, http.MethodPost, "/authz/check", "u-9", "t1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
