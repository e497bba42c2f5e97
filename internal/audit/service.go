package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hospitium/hospitium/internal/shared"
)

// Trail appends and reads audit entries.
type Trail struct {
	repo  Repository
	now   func() time.Time
	newID func() (uuid.UUID, error)
}

// Option configures a Trail.
type Option func(*Trail)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// WithIDGenerator overrides the entry ID source.
func WithIDGenerator(fn func() (uuid.UUID, error)) Option {
	return func(t *Trail) { t.newID = fn }
}

// NewTrail constructs a Trail over repo.
func NewTrail(repo Repository, opts ...Option) *Trail {
	t := &Trail{repo: repo, now: time.Now, newID: uuid.NewV7}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Prepare validates e and fills in the ID and timestamp when unset, without
// writing anything. Callers that may need to retry a write prepare first so
// every attempt carries the same ID.
func (t *Trail) Prepare(e Entry) (Entry, error) {
	e.Action = strings.TrimSpace(e.Action)
	e.Resource = strings.TrimSpace(e.Resource)
	if e.Action == "" || e.Resource == "" {
		return Entry{}, ErrInvalidEntry
	}
	if e.ID == uuid.Nil {
		id, err := t.newID()
		if err != nil {
			return Entry{}, fmt.Errorf("audit: generate id: %w", err)
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e.clone(), nil
}

// Append records e and returns the stored copy. Later changes to the
// caller's metadata map do not reach the stored entry.
func (t *Trail) Append(ctx context.Context, e Entry) (Entry, error) {
	if t == nil || t.repo == nil {
		return Entry{}, ErrNotConfigured
	}
	stored, err := t.Prepare(e)
	if err != nil {
		return Entry{}, err
	}
	if err := t.repo.Insert(ctx, stored); err != nil {
		return Entry{}, err
	}
	return stored.clone(), nil
}

// Query returns one page of matching entries, newest first. page is 1-based;
// perPage defaults to 20 and is capped at 100.
func (t *Trail) Query(ctx context.Context, f Filters, page, perPage int) (Page, error) {
	if t == nil || t.repo == nil {
		return Page{}, ErrNotConfigured
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	total, err := t.repo.Count(ctx, f)
	if err != nil {
		return Page{}, err
	}
	items := []Entry{}
	// Pages past the last one are empty. The bound is checked before the
	// offset is computed so it cannot overflow.
	if total > 0 && page-1 <= (total-1)/perPage {
		found, err := t.repo.Find(ctx, f, perPage, (page-1)*perPage)
		if err != nil {
			return Page{}, err
		}
		items = append(items, found...)
	}
	return Page{Items: items, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// Export renders every matching entry as CSV, newest first.
func (t *Trail) Export(ctx context.Context, f Filters) ([]byte, error) {
	if t == nil || t.repo == nil {
		return nil, ErrNotConfigured
	}
	total, err := t.repo.Count(ctx, f)
	if err != nil {
		return nil, err
	}
	if total > MaxExportRows {
		return nil, fmt.Errorf("%w: %d rows match, limit is %d", ErrExportTooLarge, total, MaxExportRows)
	}
	rows, err := t.repo.Find(ctx, f, MaxExportRows, 0)
	if err != nil {
		return nil, err
	}
	return WriteCSV(rows)
}
