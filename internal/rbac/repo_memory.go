package rbac

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps assignments in process memory. It is used by tests
// and by local runs without a database.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[assignmentKey]Assignment
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[assignmentKey]Assignment)}
}

// ListAssignments returns the principal's assignments ordered by creation.
func (m *MemoryRepository) ListAssignments(ctx context.Context, principalID string) ([]Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Assignment
	for _, a := range m.rows {
		if a.PrincipalID == principalID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RoleSlug < out[j].RoleSlug
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateAssignment stores a unless the triple exists.
func (m *MemoryRepository) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	if err := ctx.Err(); err != nil {
		return Assignment{}, classify(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[a.key()]; ok {
		return existing, ErrAlreadyExists
	}
	m.rows[a.key()] = a
	return a, nil
}

// DeleteAssignment removes the triple.
func (m *MemoryRepository) DeleteAssignment(ctx context.Context, principalID, roleSlug, tenantID string) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	key := assignmentKey{principal: principalID, role: roleSlug, tenant: tenantID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[key]; !ok {
		return ErrNotFound
	}
	delete(m.rows, key)
	return nil
}

// Len returns the number of stored assignments.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

var _ AssignmentRepository = (*MemoryRepository)(nil)
