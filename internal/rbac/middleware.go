package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hospitium/hospitium/internal/platform/httpx"
)

// Middleware wires authorization checks into HTTP handlers. The principal and
// tenant are read from the request context.
type Middleware struct {
	Engine *Engine
	Logger *slog.Logger
}

// RequireAny ensures the current principal holds at least one of perms in the
// request's tenant. Called without permissions it denies every request, as do
// RequireAll and RequireRole.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require("rbac require any", func(ctx context.Context, p Principal, tenant string) (bool, error) {
		return m.Engine.HasAnyPermission(ctx, p, normalized, tenant)
	}, len(normalized) == 0)
}

// RequireAll ensures the current principal holds every one of perms.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require("rbac require all", func(ctx context.Context, p Principal, tenant string) (bool, error) {
		for _, perm := range normalized {
			ok, err := m.Engine.HasPermission(ctx, p, perm, tenant)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}, len(normalized) == 0)
}

// RequireRole ensures the current principal holds at least one of roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return m.require("rbac require role", func(ctx context.Context, p Principal, tenant string) (bool, error) {
		return m.Engine.HasAnyRole(ctx, p, roles, tenant)
	}, len(roles) == 0)
}

func (m Middleware) require(op string, check func(context.Context, Principal, string) (bool, error), unconfigured bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if unconfigured {
				m.logger().Warn(op+" has nothing to check", slog.String("path", r.URL.Path))
				httpx.Forbidden(w)
				return
			}
			ctx := WithRequestCache(r.Context())
			p := PrincipalFromContext(ctx)
			if !p.Authenticated() {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			ok, err := check(ctx, p, TenantFromContext(ctx))
			if err != nil {
				m.logger().Error(op, slog.String("principal", p.ID), slog.Any("error", err))
				httpx.RespondError(w, HTTPError(err))
				return
			}
			if !ok {
				httpx.Forbidden(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// HTTPError maps engine errors onto the httpx sentinels. Outages deny.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrRepositoryUnavailable):
		return httpx.ErrUnavailable
	case errors.Is(err, ErrInvalidScope):
		return errors.Join(httpx.ErrValidation, err)
	default:
		return err
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
