package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrAlreadyExists is returned by CreateAssignment when the triple is stored.
	// It is not a failure: the existing assignment is returned alongside it.
	ErrAlreadyExists = errors.New("rbac: assignment already exists")
	// ErrNotFound indicates that the requested assignment does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrUnknownRole is returned when granting a role the catalog does not define.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrInvalidPrincipal is returned when granting to an empty principal ID.
	ErrInvalidPrincipal = errors.New("rbac: principal id required")
	// ErrInvalidScope marks a scoped check made without a tenant when tenants are required.
	ErrInvalidScope = errors.New("rbac: tenant required for scoped check")
	// ErrRepositoryUnavailable marks a retryable storage failure or timeout.
	ErrRepositoryUnavailable = errors.New("rbac: repository unavailable")
)

// classify wraps timeouts and connection failures as ErrRepositoryUnavailable
// and leaves every other error untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrRepositoryUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	return err
}
