package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, p Principal, tenant string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := ContextWithPrincipal(req.Context(), p)
	ctx = ContextWithTenant(ctx, tenant)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestMiddlewareRequireAny(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.AssignRole(context.Background(), "u-1", "blogger", "t1")
	require.NoError(t, err)
	mw := Middleware{Engine: engine}

	h := mw.RequireAny("admissions.create", "blog.read ")(okHandler())

	rec := serve(h, Principal{ID: "u-1"}, "t1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(h, Principal{ID: "u-1"}, "t2")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient privileges")
	assert.NotContains(t, rec.Body.String(), "blog.read")

	rec = serve(h, Principal{}, "t1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRequireAll(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.AssignRole(context.Background(), "u-1", "blogger", "")
	require.NoError(t, err)
	mw := Middleware{Engine: engine}

	rec := serve(mw.RequireAll("blog.read", "blog.write")(okHandler()), Principal{ID: "u-1"}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(mw.RequireAll("blog.read", "admissions.create")(okHandler()), Principal{ID: "u-1"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddlewareRequireRole(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.AssignRole(context.Background(), "u-1", "mesa_entrada", "t1")
	require.NoError(t, err)
	mw := Middleware{Engine: engine}

	rec := serve(mw.RequireRole("Mesa de Entradas")(okHandler()), Principal{ID: "u-1"}, "t1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(mw.RequireRole("root")(okHandler()), Principal{ID: "u-1"}, "t1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddlewareUnavailableRepository(t *testing.T) {
	engine := NewEngine(testCatalog(t), blockingRepo{NewMemoryRepository()}, WithTimeout(5*time.Millisecond))
	mw := Middleware{Engine: engine}

	rec := serve(mw.RequireAny("blog.read")(okHandler()), Principal{ID: "u-1"}, "t1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestMiddlewareInvalidScope(t *testing.T) {
	engine, _ := newTestEngine(t, WithRequireTenant(true))
	mw := Middleware{Engine: engine}

	rec := serve(mw.RequireAny("blog.read")(okHandler()), Principal{ID: "u-1"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNormalizePermissions(t *testing.T) {
	assert.Equal(t, []string{"blog.read", "blog.write"}, normalizePermissions([]string{" blog.read", "", "blog.write", "blog.read"}))
	assert.Equal(t, []string{"Blog.Read"}, normalizePermissions([]string{"Blog.Read "}))
	assert.Empty(t, normalizePermissions(nil))
}

func TestMiddlewareWithoutArgumentsDenies(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.AssignRole(context.Background(), "u-1", "root", "")
	require.NoError(t, err)
	mw := Middleware{Engine: engine}

	for name, h := range map[string]http.Handler{
		"any":   mw.RequireAny()(okHandler()),
		"blank": mw.RequireAny(" ", "")(okHandler()),
		"all":   mw.RequireAll()(okHandler()),
		"role":  mw.RequireRole()(okHandler()),
	} {
		rec := serve(h, Principal{ID: "u-1"}, "")
		assert.Equal(t, http.StatusForbidden, rec.Code, name)
	}
}
