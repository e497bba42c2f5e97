// Package catalog holds the static role definitions: which permissions each
// role grants and at what privilege level. A Catalog is immutable once built
// and safe for concurrent use.
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// ErrConflict is returned when two roles claim the same canonical name.
var ErrConflict = errors.New("catalog: conflicting role key")

type entry struct {
	role  Role
	perms PermissionSet
}

// Catalog resolves roles by any of their canonical keys.
type Catalog struct {
	roles map[string]entry
	index map[string]string
	order []string
}

// New builds a Catalog from role definitions. The slug, display name and
// every alias of each role are canonicalized into one lookup index; a key
// claimed by two different roles is an error.
func New(defs []Role) (*Catalog, error) {
	c := &Catalog{
		roles: make(map[string]entry, len(defs)),
		index: make(map[string]string, len(defs)*3),
	}
	for _, def := range defs {
		slug := Canonicalize(def.Slug)
		if slug == "" {
			return nil, fmt.Errorf("catalog: role %q has an empty slug", def.Name)
		}
		if _, dup := c.roles[slug]; dup {
			return nil, fmt.Errorf("%w: slug %q defined twice", ErrConflict, slug)
		}

		perms := make(PermissionSet, len(def.Permissions))
		normalized := make([]Permission, 0, len(def.Permissions))
		for _, p := range def.Permissions {
			np := NormalizePermission(string(p))
			if np == "" {
				continue
			}
			if _, seen := perms[np]; !seen {
				normalized = append(normalized, np)
			}
			perms[np] = struct{}{}
		}
		sort.Slice(normalized, func(i, j int) bool { return normalized[i] < normalized[j] })

		role := def
		role.Slug = slug
		role.Permissions = normalized
		role.Aliases = append([]string(nil), def.Aliases...)
		c.roles[slug] = entry{role: role, perms: perms}
		c.order = append(c.order, slug)

		keys := append([]string{def.Slug, def.Name}, def.Aliases...)
		for _, k := range keys {
			key := Canonicalize(k)
			if key == "" {
				continue
			}
			if owner, taken := c.index[key]; taken && owner != slug {
				return nil, fmt.Errorf("%w: %q used by %q and %q", ErrConflict, key, owner, slug)
			}
			c.index[key] = slug
		}
	}
	sort.Strings(c.order)
	return c, nil
}

// Resolve maps a slug, display name or alias in any spelling to the role's
// canonical slug.
func (c *Catalog) Resolve(nameOrSlug string) (string, bool) {
	if c == nil {
		return "", false
	}
	slug, ok := c.index[Canonicalize(nameOrSlug)]
	return slug, ok
}

// Exists reports whether the role is defined.
func (c *Catalog) Exists(role string) bool {
	_, ok := c.Resolve(role)
	return ok
}

// PermissionsOf returns a copy of the permissions granted by role. Unknown
// roles grant nothing.
func (c *Catalog) PermissionsOf(role string) PermissionSet {
	slug, ok := c.Resolve(role)
	if !ok {
		return PermissionSet{}
	}
	src := c.roles[slug].perms
	out := make(PermissionSet, len(src))
	out.Add(src)
	return out
}

// LevelOf returns the privilege level of role, or zero when it is unknown.
func (c *Catalog) LevelOf(role string) int {
	slug, ok := c.Resolve(role)
	if !ok {
		return 0
	}
	return c.roles[slug].role.Level
}

// Role returns the definition for role.
func (c *Catalog) Role(role string) (Role, bool) {
	slug, ok := c.Resolve(role)
	if !ok {
		return Role{}, false
	}
	r := c.roles[slug].role
	r.Aliases = append([]string(nil), r.Aliases...)
	r.Permissions = append([]Permission(nil), r.Permissions...)
	return r, true
}

// Roles lists every role ordered by descending level, then slug.
func (c *Catalog) Roles() []Role {
	if c == nil {
		return nil
	}
	out := make([]Role, 0, len(c.order))
	for _, slug := range c.order {
		r, _ := c.Role(slug)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level > out[j].Level })
	return out
}
