package shared

// Permissions guarding the authorization and audit surfaces.
const (
	PermRolesView   = "roles.view"
	PermRolesAssign = "roles.assign"

	PermAuditView   = "audit.view"
	PermAuditExport = "audit.export"
)

// CoreScopes lists the permissions the admin API checks.
func CoreScopes() []string {
	return []string{
		PermRolesView,
		PermRolesAssign,
		PermAuditView,
		PermAuditExport,
	}
}
