// Package guard runs authorization checks and records each decision, and the
// outcome of each authorized mutation, in the audit trail. Audit writes are a
// side channel: a failed write is escalated, never returned to the caller.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hospitium/hospitium/internal/audit"
	"github.com/hospitium/hospitium/internal/observability"
	"github.com/hospitium/hospitium/internal/platform/httpx"
	"github.com/hospitium/hospitium/internal/rbac"
)

// Decision labels stored in audit metadata and metrics.
const (
	DecisionAllowed     = "allowed"
	DecisionDenied      = "denied"
	DecisionUnavailable = "unavailable"
	DecisionError       = "error"
)

var (
	// ErrForbidden is the only denial callers see.
	ErrForbidden = errors.New("guard: insufficient privileges")
	// ErrUnauthenticated is returned when the context carries no principal.
	ErrUnauthenticated = errors.New("guard: authentication required")
	// ErrUnavailable is returned when the decision could not be made in time.
	ErrUnavailable = errors.New("guard: authorization temporarily unavailable")
)

// Checker makes the authorization decision.
type Checker interface {
	Check(ctx context.Context, p rbac.Principal, permission string, tenant string) rbac.Decision
}

// Recorder writes audit entries.
type Recorder interface {
	Prepare(e audit.Entry) (audit.Entry, error)
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Operation describes one guarded action.
type Operation struct {
	// Permission is required to proceed.
	Permission string
	// Action is the audit action name. Defaults to Permission.
	Action string
	// Resource identifies the target, e.g. "assignment:u-2".
	Resource string
	// Tenant overrides the tenant taken from the context.
	Tenant   string
	Metadata map[string]any
}

// Guard authorizes operations and records them.
type Guard struct {
	checker   Checker
	recorder  Recorder
	escalator Escalator
	metrics   *observability.Metrics
	logger    *slog.Logger
	timeout   time.Duration
}

// Config collects Guard dependencies.
type Config struct {
	Checker   Checker
	Recorder  Recorder
	Escalator Escalator
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	// AuditTimeout bounds each audit write. Defaults to two seconds.
	AuditTimeout time.Duration
}

// New constructs a Guard. Without an escalator, failed writes are logged.
func New(cfg Config) *Guard {
	g := &Guard{
		checker:   cfg.Checker,
		recorder:  cfg.Recorder,
		escalator: cfg.Escalator,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		timeout:   cfg.AuditTimeout,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.timeout <= 0 {
		g.timeout = 2 * time.Second
	}
	if g.escalator == nil {
		g.escalator = NewLogEscalator(g.logger, g.metrics)
	}
	return g
}

// Authorize decides op for the principal in ctx and records the decision. It
// returns nil when allowed, ErrUnauthenticated, ErrForbidden, ErrUnavailable,
// or the engine's error (rbac.ErrInvalidScope) otherwise.
func (g *Guard) Authorize(ctx context.Context, op Operation) error {
	p := rbac.PrincipalFromContext(ctx)
	tenant := g.tenant(ctx, op)

	var (
		decision string
		result   error
	)
	switch {
	case !p.Authenticated():
		decision, result = DecisionDenied, ErrUnauthenticated
	default:
		d := g.checker.Check(ctx, p, op.Permission, tenant)
		switch {
		case d.Allowed:
			decision = DecisionAllowed
		case d.Pending:
			decision, result = DecisionUnavailable, fmt.Errorf("%w: %v", ErrUnavailable, d.Err)
		case d.Err != nil:
			decision, result = DecisionError, d.Err
		default:
			decision, result = DecisionDenied, ErrForbidden
		}
	}
	g.metrics.ObserveDecision(decision)

	meta := map[string]any{"decision": decision, "permission": op.Permission}
	if decision == DecisionError {
		meta["error"] = result.Error()
	}
	g.record(ctx, p, tenant, op, meta)
	return result
}

// Do authorizes op, runs fn when allowed, and records whether fn succeeded.
// fn's error is returned unchanged; the outcome record cannot alter it.
func (g *Guard) Do(ctx context.Context, op Operation, fn func(context.Context) error) error {
	if err := g.Authorize(ctx, op); err != nil {
		return err
	}
	err := fn(ctx)
	meta := map[string]any{"outcome": "succeeded"}
	if err != nil {
		meta["outcome"] = "failed"
		meta["error"] = err.Error()
	}
	g.record(ctx, rbac.PrincipalFromContext(ctx), g.tenant(ctx, op), op, meta)
	return err
}

// Require returns HTTP middleware that authorizes every request. resource
// derives the audit resource from the request; nil uses the URL path.
func (g *Guard) Require(permission, action string, resource func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := rbac.WithRequestCache(r.Context())
			op := Operation{Permission: permission, Action: action, Resource: r.URL.Path}
			if resource != nil {
				op.Resource = resource(r)
			}
			if err := g.Authorize(ctx, op); err != nil {
				httpx.RespondError(w, HTTPError(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HTTPError maps guard errors onto the httpx sentinels.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrForbidden):
		return httpx.ErrForbidden
	case errors.Is(err, ErrUnauthenticated):
		return httpx.ErrUnauthorized
	case errors.Is(err, ErrUnavailable):
		return httpx.ErrUnavailable
	default:
		return rbac.HTTPError(err)
	}
}

func (g *Guard) tenant(ctx context.Context, op Operation) string {
	if op.Tenant != "" {
		return op.Tenant
	}
	return rbac.TenantFromContext(ctx)
}

// record appends an entry detached from the caller's cancellation and bounded
// by the guard's own timeout. Failures go to the escalator.
func (g *Guard) record(ctx context.Context, p rbac.Principal, tenant string, op Operation, extra map[string]any) {
	if g.recorder == nil {
		return
	}
	action := op.Action
	if action == "" {
		action = op.Permission
	}
	meta := make(map[string]any, len(op.Metadata)+len(extra))
	for k, v := range op.Metadata {
		meta[k] = v
	}
	for k, v := range extra {
		meta[k] = v
	}
	resource := op.Resource
	if resource == "" {
		resource = "-"
	}
	entry, err := g.recorder.Prepare(audit.Entry{
		Actor:    p.ID,
		Action:   action,
		Resource: resource,
		TenantID: tenant,
		Metadata: meta,
	})
	if err != nil {
		g.logger.Error("audit entry rejected", slog.String("action", action), slog.Any("error", err))
		g.metrics.AuditWriteFailed("prepare")
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	if _, err := g.recorder.Append(writeCtx, entry); err != nil {
		g.escalator.Escalate(context.WithoutCancel(ctx), entry, err)
	}
}
