package rbac

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AssignmentRepository is the durable store of role assignments.
//
// CreateAssignment must be atomic: when several callers create the same
// (principal, role, tenant) triple concurrently exactly one row is stored, and
// every other caller receives the stored row together with ErrAlreadyExists.
type AssignmentRepository interface {
	ListAssignments(ctx context.Context, principalID string) ([]Assignment, error)
	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	DeleteAssignment(ctx context.Context, principalID, roleSlug, tenantID string) error
}

// DBTX is the subset of pgx used by the PostgreSQL adapters. Both
// *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
