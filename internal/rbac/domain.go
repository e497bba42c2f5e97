package rbac

import "time"

// Principal is the authenticated actor of a request. The zero value is the
// unauthenticated principal, for which every check denies.
type Principal struct {
	ID       string
	Verified bool
}

// Authenticated reports whether the principal carries an identity.
func (p Principal) Authenticated() bool {
	return p.ID != ""
}

// Tenant is an isolation boundary such as one hospital.
type Tenant struct {
	ID     string
	Name   string
	Active bool
}

// GlobalScope is the tenant ID of assignments that apply in every tenant and of
// checks made without a tenant context.
const GlobalScope = ""

// Assignment grants a role to a principal, globally or within one tenant.
// RoleSlug is always the catalog's canonical slug.
type Assignment struct {
	PrincipalID string    `json:"principal_id"`
	RoleSlug    string    `json:"role"`
	TenantID    string    `json:"tenant_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Global reports whether the assignment applies regardless of tenant.
func (a Assignment) Global() bool {
	return a.TenantID == GlobalScope
}

// appliesTo reports whether the assignment qualifies for a check in tenant.
func (a Assignment) appliesTo(tenant string) bool {
	return a.Global() || a.TenantID == tenant
}

func (a Assignment) key() assignmentKey {
	return assignmentKey{principal: a.PrincipalID, role: a.RoleSlug, tenant: a.TenantID}
}

type assignmentKey struct {
	principal string
	role      string
	tenant    string
}

// AssignResult is the outcome of AssignRole. AlreadyAssigned is set when the
// triple existed before the call; Assignment is then the stored record.
type AssignResult struct {
	Assignment      Assignment `json:"assignment"`
	AlreadyAssigned bool       `json:"already_assigned"`
}

// Decision is the answer for interactive callers. Pending is set when the
// answer could not be computed in time; Allowed is then false.
type Decision struct {
	Allowed bool  `json:"allowed"`
	Pending bool  `json:"pending"`
	Err     error `json:"-"`
}
