package audit

import (
	"fmt"
	"strings"
)

// Predicate is a WHERE clause with positional arguments. Filter values only
// ever travel in Args; the clause text is built from fixed column names.
type Predicate struct {
	clauses []string
	args    []any
}

// BuildPredicate translates f into a parameterized predicate.
func BuildPredicate(f Filters) Predicate {
	f = f.trimmed()
	var p Predicate
	if f.Action != "" {
		p.add("action = $%d", f.Action)
	}
	if f.Resource != "" {
		p.add("resource = $%d", f.Resource)
	}
	if f.Actor != "" {
		p.add("actor = $%d", f.Actor)
	}
	if f.TenantID != "" {
		p.add("tenant_id = $%d", f.TenantID)
	}
	if !f.CreatedFrom.IsZero() {
		p.add("created_at >= $%d", f.CreatedFrom.UTC())
	}
	if !f.CreatedTo.IsZero() {
		p.add("created_at < $%d", f.CreatedTo.UTC())
	}
	return p
}

func (p *Predicate) add(format string, value any) {
	p.args = append(p.args, value)
	p.clauses = append(p.clauses, fmt.Sprintf(format, len(p.args)))
}

// Where renders the clause, prefixed with WHERE, or "" when nothing filters.
func (p Predicate) Where() string {
	if len(p.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(p.clauses, " AND ")
}

// Args returns a copy of the positional arguments.
func (p Predicate) Args() []any {
	return append([]any(nil), p.args...)
}

// Next returns the placeholder index following the predicate's arguments.
func (p Predicate) Next() int {
	return len(p.args) + 1
}
