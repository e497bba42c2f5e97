package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Repository persists entries. It has no update or delete.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	Find(ctx context.Context, f Filters, limit, offset int) ([]Entry, error)
	Count(ctx context.Context, f Filters) (int, error)
}

// DBTX is the subset of pgx used by PGRepository.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository stores entries in audit_entries.
type PGRepository struct {
	db DBTX
}

// NewPGRepository constructs a PostgreSQL audit repository.
func NewPGRepository(db DBTX) *PGRepository {
	return &PGRepository{db: db}
}

// Insert writes e. Writing an ID that already exists is a no-op, which makes
// replays of the same entry safe.
func (r *PGRepository) Insert(ctx context.Context, e Entry) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: encode metadata: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO audit_entries (id, actor, action, resource, tenant_id, metadata, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		e.ID.String(), e.Actor, e.Action, e.Resource, e.TenantID, metaJSON, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Find returns matching entries newest first.
func (r *PGRepository) Find(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	if offset < 0 {
		offset = 0
	}
	pred := BuildPredicate(f)
	args := pred.Args()
	n := pred.Next()
	query := `SELECT id::text, actor, action, resource, tenant_id, metadata, created_at FROM audit_entries` +
		pred.Where() +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, n, n+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			id        string
			meta      []byte
			createdAt pgtype.Timestamptz
			e         Entry
		)
		if err := rows.Scan(&id, &e.Actor, &e.Action, &e.Resource, &e.TenantID, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("audit: parse id: %w", err)
		}
		if createdAt.Valid {
			e.CreatedAt = createdAt.Time.UTC()
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("audit: decode metadata: %w", err)
			}
			if len(e.Metadata) == 0 {
				e.Metadata = nil
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	return out, nil
}

// Count returns the number of matching entries.
func (r *PGRepository) Count(ctx context.Context, f Filters) (int, error) {
	pred := BuildPredicate(f)
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries`+pred.Where(), pred.Args()...).Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("audit: count entries: %w", err)
	}
	return int(total), nil
}

// MemoryRepository is an in-process append-only store.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
	ids     map[uuid.UUID]struct{}
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ids: make(map[uuid.UUID]struct{})}
}

// Insert appends a copy of e unless its ID is already stored.
func (m *MemoryRepository) Insert(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[e.ID]; ok {
		return nil
	}
	m.ids[e.ID] = struct{}{}
	m.entries = append(m.entries, e.clone())
	return nil
}

// Find returns copies of matching entries newest first.
func (m *MemoryRepository) Find(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched := m.matching(f)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns the number of matching entries.
func (m *MemoryRepository) Count(ctx context.Context, f Filters) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(m.matching(f)), nil
}

// Len returns the number of stored entries.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryRepository) matching(f Filters) []Entry {
	f = f.trimmed()
	m.mu.RLock()
	var out []Entry
	for _, e := range m.entries {
		if f.Match(e) {
			out = append(out, e.clone())
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}

var (
	_ Repository = (*PGRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
