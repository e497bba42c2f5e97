// Package audit records who did what, to which resource, in which tenant. The
// trail is append-only: entries are never updated or deleted.
package audit

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hospitium/hospitium/internal/shared"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
	// MaxExportRows bounds a single CSV export.
	MaxExportRows = 10000
)

var (
	// ErrInvalidEntry is returned by Append when action or resource is missing.
	ErrInvalidEntry = errors.New("audit: action and resource are required")
	// ErrNotConfigured is returned when the trail has no repository.
	ErrNotConfigured = errors.New("audit: repository not configured")
	// ErrExportTooLarge is returned when an export would exceed MaxExportRows.
	ErrExportTooLarge = errors.New("audit: export exceeds row limit")
)

// Entry is one immutable audit record.
type Entry struct {
	ID        uuid.UUID      `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	TenantID  string         `json:"tenant_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Filters narrows a query. Empty fields do not filter. CreatedFrom is
// inclusive and CreatedTo exclusive.
type Filters struct {
	Action      string
	Resource    string
	Actor       string
	TenantID    string
	CreatedFrom time.Time
	CreatedTo   time.Time
}

// Match reports whether e satisfies every set filter.
func (f Filters) Match(e Entry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if !f.CreatedFrom.IsZero() && e.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !e.CreatedAt.Before(f.CreatedTo) {
		return false
	}
	return true
}

func (f Filters) trimmed() Filters {
	f.Action = strings.TrimSpace(f.Action)
	f.Resource = strings.TrimSpace(f.Resource)
	f.Actor = strings.TrimSpace(f.Actor)
	f.TenantID = strings.TrimSpace(f.TenantID)
	return f
}

// Page is one page of query results, newest first.
type Page struct {
	Items      []Entry           `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// newer orders entries by created_at then id, both descending.
func newer(a, b Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return strings.Compare(a.ID.String(), b.ID.String()) > 0
}

func (e Entry) clone() Entry {
	e.Metadata = copyMetadata(e.Metadata)
	return e
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
