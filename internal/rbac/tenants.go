package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TenantDirectory reports tenant status. found is false for tenants the
// directory does not know.
type TenantDirectory interface {
	Tenant(ctx context.Context, id string) (t Tenant, found bool, err error)
}

// PGTenantDirectory reads the tenants table.
type PGTenantDirectory struct {
	db DBTX
}

// NewPGTenantDirectory constructs a PostgreSQL tenant directory.
func NewPGTenantDirectory(db DBTX) *PGTenantDirectory {
	return &PGTenantDirectory{db: db}
}

// Tenant loads one tenant by ID.
func (d *PGTenantDirectory) Tenant(ctx context.Context, id string) (Tenant, bool, error) {
	t := Tenant{ID: id}
	err := d.db.QueryRow(ctx, `SELECT name, active FROM tenants WHERE id = $1`, id).Scan(&t.Name, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, false, nil
		}
		return Tenant{}, false, classify(fmt.Errorf("rbac: load tenant: %w", err))
	}
	return t, true, nil
}

// StaticTenants is an in-memory TenantDirectory keyed by tenant ID.
type StaticTenants map[string]Tenant

// Tenant looks up id.
func (s StaticTenants) Tenant(_ context.Context, id string) (Tenant, bool, error) {
	t, ok := s[id]
	return t, ok, nil
}
