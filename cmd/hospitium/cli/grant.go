// Package cli implements the operator subcommands of the hospitium binary.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hospitium/hospitium/internal/audit"
	"github.com/hospitium/hospitium/internal/rbac"
)

// Actor is recorded as the audit actor of operator commands.
const Actor = "cli"

// Assigner grants and revokes roles.
type Assigner interface {
	AssignRole(ctx context.Context, principalID, role, tenant string) (rbac.AssignResult, error)
	RevokeRole(ctx context.Context, principalID, role, tenant string) error
}

// Recorder appends audit entries.
type Recorder interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// AdminCLI bootstraps role assignments outside the HTTP API, typically the
// first superadmin of a fresh installation.
type AdminCLI struct {
	assigner Assigner
	recorder Recorder
}

// NewAdminCLI validates dependencies and returns an AdminCLI.
func NewAdminCLI(assigner Assigner, recorder Recorder) (*AdminCLI, error) {
	if assigner == nil {
		return nil, errors.New("admin cli: assigner required")
	}
	return &AdminCLI{assigner: assigner, recorder: recorder}, nil
}

// GrantOptions defines the flags shared by grant and revoke.
type GrantOptions struct {
	Principal  string
	Role       string
	Tenant     string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

type grantSummary struct {
	Principal       string `json:"principal_id"`
	Role            string `json:"role"`
	Tenant          string `json:"tenant_id"`
	Action          string `json:"action"`
	AlreadyAssigned bool   `json:"already_assigned,omitempty"`
}

// GrantCommand assigns a role and prints the outcome. It exits 0 when the
// role is held afterwards, including when it already was.
func (c *AdminCLI) GrantCommand(ctx context.Context, opts GrantOptions) int {
	opts = withDefaults(opts)
	if !validOptions("grant", opts) {
		return 1
	}
	res, err := c.assigner.AssignRole(ctx, opts.Principal, opts.Role, opts.Tenant)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "grant: %v\n", err)
		return 1
	}
	summary := grantSummary{
		Principal:       res.Assignment.PrincipalID,
		Role:            res.Assignment.RoleSlug,
		Tenant:          res.Assignment.TenantID,
		Action:          "roles.assign",
		AlreadyAssigned: res.AlreadyAssigned,
	}
	if !res.AlreadyAssigned {
		c.record(ctx, opts, summary)
	}
	return render(opts, summary)
}

// RevokeCommand removes a role assignment. A missing assignment exits 2.
func (c *AdminCLI) RevokeCommand(ctx context.Context, opts GrantOptions) int {
	opts = withDefaults(opts)
	if !validOptions("revoke", opts) {
		return 1
	}
	err := c.assigner.RevokeRole(ctx, opts.Principal, opts.Role, opts.Tenant)
	if errors.Is(err, rbac.ErrNotFound) {
		_, _ = fmt.Fprintf(opts.Stderr, "revoke: %s does not hold %s\n", opts.Principal, opts.Role)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "revoke: %v\n", err)
		return 1
	}
	summary := grantSummary{Principal: opts.Principal, Role: opts.Role, Tenant: opts.Tenant, Action: "roles.revoke"}
	c.record(ctx, opts, summary)
	return render(opts, summary)
}

func (c *AdminCLI) record(ctx context.Context, opts GrantOptions, s grantSummary) {
	if c.recorder == nil {
		return
	}
	_, err := c.recorder.Append(ctx, audit.Entry{
		Actor:    Actor,
		Action:   s.Action,
		Resource: "assignment:" + s.Principal,
		TenantID: s.Tenant,
		Metadata: map[string]any{"role": s.Role, "outcome": "succeeded"},
	})
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "warning: audit entry not written: %v\n", err)
	}
}

func withDefaults(opts GrantOptions) GrantOptions {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	opts.Principal = strings.TrimSpace(opts.Principal)
	opts.Role = strings.TrimSpace(opts.Role)
	opts.Tenant = strings.TrimSpace(opts.Tenant)
	return opts
}

func validOptions(cmd string, opts GrantOptions) bool {
	if opts.Principal == "" || opts.Role == "" {
		_, _ = fmt.Fprintf(opts.Stderr, "%s: --principal and --role are required\n", cmd)
		return false
	}
	return true
}

func render(opts GrantOptions, s grantSummary) int {
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(s); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "encode json: %v\n", err)
			return 1
		}
		return 0
	}
	scope := "globally"
	if s.Tenant != "" {
		scope = "in tenant " + s.Tenant
	}
	switch {
	case s.AlreadyAssigned:
		_, _ = fmt.Fprintf(opts.Stdout, "%s already holds %s %s\n", s.Principal, s.Role, scope)
	case s.Action == "roles.revoke":
		_, _ = fmt.Fprintf(opts.Stdout, "revoked %s from %s %s\n", s.Role, s.Principal, scope)
	default:
		_, _ = fmt.Fprintf(opts.Stdout, "granted %s to %s %s\n", s.Role, s.Principal, scope)
	}
	return 0
}
