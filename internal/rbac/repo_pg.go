package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// PGRepository stores assignments in the role_assignments table. The global
// scope is stored as an empty tenant_id so the unique constraint covers it.
type PGRepository struct {
	db DBTX
}

// NewPGRepository constructs a PostgreSQL backed repository.
func NewPGRepository(db DBTX) *PGRepository {
	return &PGRepository{db: db}
}

// ListAssignments returns every assignment for the principal.
func (r *PGRepository) ListAssignments(ctx context.Context, principalID string) ([]Assignment, error) {
	rows, err := r.db.Query(ctx, `SELECT principal_id, role_slug, tenant_id, created_at
		FROM role_assignments WHERE principal_id = $1 ORDER BY created_at, role_slug`, principalID)
	if err != nil {
		return nil, classify(fmt.Errorf("rbac: list assignments: %w", err))
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.PrincipalID, &a.RoleSlug, &a.TenantID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("rbac: scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("rbac: list assignments: %w", err))
	}
	return out, nil
}

// CreateAssignment inserts the triple unless it already exists. The insert and
// the existence check are one statement, so concurrent grants cannot both
// create a row.
func (r *PGRepository) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO role_assignments (principal_id, role_slug, tenant_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id, role_slug, tenant_id) DO NOTHING
		RETURNING created_at`, a.PrincipalID, a.RoleSlug, a.TenantID, a.CreatedAt).Scan(&a.CreatedAt)
	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, pgx.ErrNoRows):
	default:
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
			return Assignment{}, classify(fmt.Errorf("rbac: create assignment: %w", err))
		}
	}

	existing, err := r.find(ctx, a.PrincipalID, a.RoleSlug, a.TenantID)
	if err != nil {
		return Assignment{}, err
	}
	return existing, ErrAlreadyExists
}

// DeleteAssignment removes the triple. It returns ErrNotFound when nothing was deleted.
func (r *PGRepository) DeleteAssignment(ctx context.Context, principalID, roleSlug, tenantID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_assignments
		WHERE principal_id = $1 AND role_slug = $2 AND tenant_id = $3`, principalID, roleSlug, tenantID)
	if err != nil {
		return classify(fmt.Errorf("rbac: delete assignment: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) find(ctx context.Context, principalID, roleSlug, tenantID string) (Assignment, error) {
	a := Assignment{PrincipalID: principalID, RoleSlug: roleSlug, TenantID: tenantID}
	err := r.db.QueryRow(ctx, `SELECT created_at FROM role_assignments
		WHERE principal_id = $1 AND role_slug = $2 AND tenant_id = $3`, principalID, roleSlug, tenantID).Scan(&a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The conflicting row was revoked between the insert and this read.
			return Assignment{}, fmt.Errorf("%w: assignment changed concurrently", ErrRepositoryUnavailable)
		}
		return Assignment{}, classify(fmt.Errorf("rbac: find assignment: %w", err))
	}
	return a, nil
}

var _ AssignmentRepository = (*PGRepository)(nil)
