// Package rbac decides whether a principal may perform an action, optionally
// within a tenant, from role assignments and the permission catalog.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hospitium/hospitium/internal/catalog"
)

// DefaultSuperadminLevel is the level at or above which a role passes every
// permission check.
const DefaultSuperadminLevel = 100

// Options configures an Engine.
type Options struct {
	// SuperadminLevel enables the unconditional bypass for roles at or above
	// this level. Zero or less disables the bypass.
	SuperadminLevel int
	// Timeout bounds every repository and tenant lookup.
	Timeout time.Duration
	// RequireTenant makes tenant-less checks fail with ErrInvalidScope.
	RequireTenant bool
	// Tenants, when set, excludes assignments scoped to inactive tenants.
	Tenants TenantDirectory
	Logger  *slog.Logger
	Now     func() time.Time
}

// Option mutates Options.
type Option func(*Options)

// WithSuperadminLevel sets the bypass threshold.
func WithSuperadminLevel(level int) Option {
	return func(o *Options) { o.SuperadminLevel = level }
}

// WithTimeout bounds repository calls.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRequireTenant rejects checks made without a tenant.
func WithRequireTenant(required bool) Option {
	return func(o *Options) { o.RequireTenant = required }
}

// WithTenantDirectory enables inactive-tenant filtering.
func WithTenantDirectory(d TenantDirectory) Option {
	return func(o *Options) { o.Tenants = d }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithClock overrides the assignment timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// Engine answers permission and role queries. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	catalog *catalog.Catalog
	repo    AssignmentRepository
	opts    Options
}

// NewEngine constructs an Engine.
func NewEngine(cat *catalog.Catalog, repo AssignmentRepository, opts ...Option) *Engine {
	o := Options{
		SuperadminLevel: DefaultSuperadminLevel,
		Timeout:         2 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Engine{catalog: cat, repo: repo, opts: o}
}

// Catalog exposes the engine's role catalog.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// ResolveEffectivePermissions returns the sorted union of permissions granted
// by every assignment that qualifies for tenant. Without a tenant only global
// assignments qualify.
func (e *Engine) ResolveEffectivePermissions(ctx context.Context, p Principal, tenant string) ([]catalog.Permission, error) {
	rows, err := e.qualifying(ctx, p, tenant)
	if err != nil {
		return nil, err
	}
	set := e.permissionSet(rows)
	out := set.Slice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// HasPermission reports whether p holds permission in tenant, either through
// the effective set or through a role at or above the superadmin level. Errors
// always come with false.
func (e *Engine) HasPermission(ctx context.Context, p Principal, permission string, tenant string) (bool, error) {
	return e.HasAnyPermission(ctx, p, []string{permission}, tenant)
}

// HasAnyPermission reports whether at least one of permissions passes
// HasPermission. Assignments are loaded once for all of them.
func (e *Engine) HasAnyPermission(ctx context.Context, p Principal, permissions []string, tenant string) (bool, error) {
	if len(permissions) == 0 {
		return false, nil
	}
	rows, err := e.qualifying(ctx, p, tenant)
	if err != nil || len(rows) == 0 {
		return false, err
	}
	if e.bypass(rows) {
		return true, nil
	}
	granted := e.permissionSet(rows)
	for _, perm := range permissions {
		if granted.Has(catalog.NormalizePermission(perm)) {
			return true, nil
		}
	}
	return false, nil
}

// HasRole reports whether p holds the role in tenant. The role may be given as
// slug or display name in any spelling the catalog canonicalizes to it.
func (e *Engine) HasRole(ctx context.Context, p Principal, roleSlugOrName string, tenant string) (bool, error) {
	return e.HasAnyRole(ctx, p, []string{roleSlugOrName}, tenant)
}

// HasAnyRole reports whether p holds at least one of roles in tenant.
func (e *Engine) HasAnyRole(ctx context.Context, p Principal, roles []string, tenant string) (bool, error) {
	wanted := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if slug, ok := e.catalog.Resolve(r); ok {
			wanted[slug] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return false, nil
	}
	rows, err := e.qualifying(ctx, p, tenant)
	if err != nil {
		return false, err
	}
	for _, a := range rows {
		slug, ok := e.catalog.Resolve(a.RoleSlug)
		if !ok {
			continue
		}
		if _, hit := wanted[slug]; hit {
			return true, nil
		}
	}
	return false, nil
}

// Check is HasPermission for interactive callers. A repository outage yields a
// pending, denied decision instead of an error the caller must inspect.
func (e *Engine) Check(ctx context.Context, p Principal, permission string, tenant string) Decision {
	ok, err := e.HasPermission(ctx, p, permission, tenant)
	if err != nil {
		if errors.Is(err, ErrRepositoryUnavailable) {
			e.opts.Logger.Warn("rbac check unavailable", slog.String("principal", p.ID), slog.Any("error", err))
			return Decision{Pending: true, Err: err}
		}
		return Decision{Err: err}
	}
	return Decision{Allowed: ok}
}

// AssignRole grants role to the principal, globally when tenant is empty. A
// grant that already exists is reported through AlreadyAssigned, not as an
// error.
func (e *Engine) AssignRole(ctx context.Context, principalID, role, tenant string) (AssignResult, error) {
	if principalID == "" {
		return AssignResult{}, ErrInvalidPrincipal
	}
	slug, ok := e.catalog.Resolve(role)
	if !ok {
		return AssignResult{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	rctx, cancel := e.bounded(ctx)
	defer cancel()
	stored, err := e.repo.CreateAssignment(rctx, Assignment{
		PrincipalID: principalID,
		RoleSlug:    slug,
		TenantID:    tenant,
		CreatedAt:   e.opts.Now().UTC(),
	})
	requestCacheFrom(ctx).invalidate(principalID)
	if errors.Is(err, ErrAlreadyExists) {
		return AssignResult{Assignment: stored, AlreadyAssigned: true}, nil
	}
	if err != nil {
		return AssignResult{}, classify(err)
	}
	return AssignResult{Assignment: stored}, nil
}

// RevokeRole removes the grant made by AssignRole with the same arguments.
func (e *Engine) RevokeRole(ctx context.Context, principalID, role, tenant string) error {
	if principalID == "" {
		return ErrInvalidPrincipal
	}
	slug, ok := e.catalog.Resolve(role)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	rctx, cancel := e.bounded(ctx)
	defer cancel()
	err := e.repo.DeleteAssignment(rctx, principalID, slug, tenant)
	requestCacheFrom(ctx).invalidate(principalID)
	return classify(err)
}

// qualifying returns the principal's assignments that apply in tenant.
func (e *Engine) qualifying(ctx context.Context, p Principal, tenant string) ([]Assignment, error) {
	if !p.Authenticated() {
		return nil, nil
	}
	if tenant == GlobalScope && e.opts.RequireTenant {
		return nil, ErrInvalidScope
	}
	rows, err := e.assignments(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	tenantScoped := tenant != GlobalScope
	if tenantScoped && e.opts.Tenants != nil {
		active, err := e.tenantActive(ctx, tenant)
		if err != nil {
			return nil, err
		}
		tenantScoped = active
	}

	out := rows[:0:0]
	for _, a := range rows {
		if a.Global() || (tenantScoped && a.appliesTo(tenant)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (e *Engine) assignments(ctx context.Context, principalID string) ([]Assignment, error) {
	rc := requestCacheFrom(ctx)
	if rows, ok := rc.get(principalID); ok {
		return rows, nil
	}
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	rows, err := e.repo.ListAssignments(ctx, principalID)
	if err != nil {
		return nil, classify(err)
	}
	rc.put(principalID, rows)
	return rows, nil
}

// tenantActive treats tenants unknown to the directory as active.
func (e *Engine) tenantActive(ctx context.Context, tenant string) (bool, error) {
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	t, found, err := e.opts.Tenants.Tenant(ctx, tenant)
	if err != nil {
		return false, classify(err)
	}
	return !found || t.Active, nil
}

func (e *Engine) permissionSet(rows []Assignment) catalog.PermissionSet {
	set := make(catalog.PermissionSet)
	for _, a := range rows {
		set.Add(e.catalog.PermissionsOf(a.RoleSlug))
	}
	return set
}

func (e *Engine) bypass(rows []Assignment) bool {
	if e.opts.SuperadminLevel <= 0 {
		return false
	}
	for _, a := range rows {
		if e.catalog.LevelOf(a.RoleSlug) >= e.opts.SuperadminLevel {
			return true
		}
	}
	return false
}

func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.Timeout)
}
