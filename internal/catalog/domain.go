package catalog

import "strings"

// Permission is an opaque "<module>.<action>" capability string. Only equality
// and membership are ever evaluated.
type Permission string

// NormalizePermission trims surrounding whitespace. Case is significant.
func NormalizePermission(p string) Permission {
	return Permission(strings.TrimSpace(p))
}

// Role is a named bundle of permissions with a privilege level. Higher levels
// are broader.
type Role struct {
	Slug        string       `yaml:"slug" validate:"required"`
	Name        string       `yaml:"name" validate:"required"`
	Level       int          `yaml:"level" validate:"gte=0,lte=1000"`
	Description string       `yaml:"description"`
	Aliases     []string     `yaml:"aliases" validate:"dive,required"`
	Permissions []Permission `yaml:"permissions" validate:"dive,permission"`
}

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Add inserts every permission of other into s.
func (s PermissionSet) Add(other PermissionSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Slice returns the permissions in no particular order.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}
