// Package rbachttp exposes role administration and permission checks over
// JSON.
package rbachttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hospitium/hospitium/internal/catalog"
	"github.com/hospitium/hospitium/internal/guard"
	"github.com/hospitium/hospitium/internal/platform/httpx"
	"github.com/hospitium/hospitium/internal/rbac"
	"github.com/hospitium/hospitium/internal/shared"
)

// Handler serves the role administration API.
type Handler struct {
	logger    *slog.Logger
	engine    *rbac.Engine
	guard     *guard.Guard
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, engine *rbac.Engine, g *guard.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, guard: g, validator: validator.New()}
}

// MountRoutes registers the role administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	mw := rbac.Middleware{Engine: h.engine, Logger: h.logger}
	r.With(mw.RequireAny(shared.PermRolesView)).Get("/roles", h.listRoles)
	r.With(mw.RequireAny(shared.PermRolesView)).Get("/principals/{id}/permissions", h.effectivePermissions)
	r.Post("/assignments", h.assign)
	r.Delete("/assignments", h.revoke)
	r.Post("/authz/check", h.check)
}

type roleResponse struct {
	Slug        string               `json:"slug"`
	Name        string               `json:"name"`
	Level       int                  `json:"level"`
	Description string               `json:"description,omitempty"`
	Aliases     []string             `json:"aliases,omitempty"`
	Permissions []catalog.Permission `json:"permissions"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := h.engine.Catalog().Roles()
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleResponse{
			Slug:        role.Slug,
			Name:        role.Name,
			Level:       role.Level,
			Description: role.Description,
			Aliases:     role.Aliases,
			Permissions: role.Permissions,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

type permissionsResponse struct {
	PrincipalID string               `json:"principal_id"`
	TenantID    string               `json:"tenant_id,omitempty"`
	Permissions []catalog.Permission `json:"permissions"`
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	principalID := strings.TrimSpace(chi.URLParam(r, "id"))
	tenant, err := requestTenant(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.engine.ResolveEffectivePermissions(r.Context(), rbac.Principal{ID: principalID}, tenant)
	if err != nil {
		h.respondEngineError(w, "resolve permissions", err)
		return
	}
	if perms == nil {
		perms = []catalog.Permission{}
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{PrincipalID: principalID, TenantID: tenant, Permissions: perms})
}

type assignmentRequest struct {
	PrincipalID string `json:"principal_id" validate:"required,max=128"`
	Role        string `json:"role" validate:"required,max=128"`
	TenantID    string `json:"tenant_id" validate:"max=128"`
}

// assign grants a role. The acting principal needs roles.assign in the
// tenant being granted; a global grant needs it globally.
func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssignment(w, r)
	if !ok {
		return
	}
	ctx := rbac.ContextWithTenant(r.Context(), req.TenantID)
	op := assignmentOperation("roles.assign", req)

	var result rbac.AssignResult
	err := h.guard.Do(ctx, op, func(ctx context.Context) error {
		var err error
		result, err = h.engine.AssignRole(ctx, req.PrincipalID, req.Role, req.TenantID)
		return err
	})
	if err != nil {
		h.respondEngineError(w, "assign role", err)
		return
	}
	status := http.StatusCreated
	if result.AlreadyAssigned {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssignment(w, r)
	if !ok {
		return
	}
	ctx := rbac.ContextWithTenant(r.Context(), req.TenantID)
	op := assignmentOperation("roles.revoke", req)

	err := h.guard.Do(ctx, op, func(ctx context.Context) error {
		return h.engine.RevokeRole(ctx, req.PrincipalID, req.Role, req.TenantID)
	})
	if err != nil {
		h.respondEngineError(w, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkRequest struct {
	Permission string `json:"permission" validate:"required,max=128"`
	TenantID   string `json:"tenant_id" validate:"max=128"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
	Pending bool `json:"pending"`
}

// check answers for the calling principal only and never says which
// permission or role was missing.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	if !p.Authenticated() {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	tenant, err := requestTenant(r.Context(), req.TenantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d := h.engine.Check(rbac.WithRequestCache(r.Context()), p, req.Permission, tenant)
	if d.Err != nil && !d.Pending {
		h.respondEngineError(w, "check permission", d.Err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: d.Allowed, Pending: d.Pending})
}

func (h *Handler) decodeAssignment(w http.ResponseWriter, r *http.Request) (assignmentRequest, bool) {
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return req, false
	}
	req.PrincipalID = strings.TrimSpace(req.PrincipalID)
	req.Role = strings.TrimSpace(req.Role)
	req.TenantID = strings.TrimSpace(req.TenantID)
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return req, false
	}
	return req, true
}

func assignmentOperation(action string, req assignmentRequest) guard.Operation {
	return guard.Operation{
		Permission: shared.PermRolesAssign,
		Action:     action,
		Resource:   "assignment:" + req.PrincipalID,
		Metadata: map[string]any{
			"principal_id": req.PrincipalID,
			"role":         req.Role,
			"scope":        scopeLabel(req.TenantID),
		},
	}
}

func scopeLabel(tenant string) string {
	if tenant == rbac.GlobalScope {
		return "global"
	}
	return "tenant"
}

// requestTenant picks the tenant for a lookup. Inside a tenant-scoped request
// only that tenant may be named.
func requestTenant(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	current := rbac.TenantFromContext(ctx)
	switch {
	case current == rbac.GlobalScope:
		return requested, nil
	case requested == "" || requested == current:
		return current, nil
	default:
		return "", errors.Join(httpx.ErrValidation, errors.New("tenant does not match the request tenant"))
	}
}

func (h *Handler) respondEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, rbac.ErrUnknownRole), errors.Is(err, rbac.ErrInvalidPrincipal):
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
	case errors.Is(err, rbac.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, guard.ErrForbidden), errors.Is(err, guard.ErrUnauthenticated), errors.Is(err, guard.ErrUnavailable):
		httpx.RespondError(w, guard.HTTPError(err))
	default:
		if !errors.Is(err, rbac.ErrInvalidScope) {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.RespondError(w, rbac.HTTPError(err))
	}
}
