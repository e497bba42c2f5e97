package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	assignmentsVersionKey = "rbac:assignments:version:"
	assignmentsKey        = "rbac:assignments:"
	// BumpChannel carries the principal ID whose assignments changed.
	BumpChannel = "rbac.assignments.bump"
)

// CachedRepository caches ListAssignments in Redis. Each principal has a
// version counter that every successful create or delete increments, so a
// change is visible to the next read on any instance. Redis failures fall
// through to the wrapped repository.
//
// A change whose version bump fails is reported as ErrRepositoryUnavailable,
// and this instance stops reading the principal from cache until a retried
// bump succeeds.
type CachedRepository struct {
	next   AssignmentRepository
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
	// stale holds principals whose last bump failed.
	stale sync.Map
}

// NewCachedRepository wraps next with a Redis cache.
func NewCachedRepository(next AssignmentRepository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRepository{next: next, client: client, ttl: ttl, logger: logger}
}

// ListAssignments serves from cache, collapsing concurrent misses for the
// same principal into one load.
func (c *CachedRepository) ListAssignments(ctx context.Context, principalID string) ([]Assignment, error) {
	if c.client == nil {
		return c.next.ListAssignments(ctx, principalID)
	}
	if _, dirty := c.stale.Load(principalID); dirty {
		if err := c.Bump(ctx, principalID); err != nil {
			return c.next.ListAssignments(ctx, principalID)
		}
	}
	ver, err := c.version(ctx, principalID)
	if err != nil {
		c.logger.Warn("rbac cache version", slog.Any("error", err))
		return c.next.ListAssignments(ctx, principalID)
	}
	key := fmt.Sprintf("%s%s:%d", assignmentsKey, principalID, ver)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached []Assignment
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("rbac cache read", slog.Any("error", err))
		return c.next.ListAssignments(ctx, principalID)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		rows, err := c.next.ListAssignments(ctx, principalID)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(rows)
		if err == nil {
			if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				c.logger.Warn("rbac cache write", slog.Any("error", err))
			}
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	rows := v.([]Assignment)
	out := make([]Assignment, len(rows))
	copy(out, rows)
	return out, nil
}

// CreateAssignment delegates and invalidates the principal on success. The
// row is stored even when the returned error reports a failed invalidation.
func (c *CachedRepository) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	stored, err := c.next.CreateAssignment(ctx, a)
	if err != nil {
		return stored, err
	}
	if err := c.Bump(ctx, a.PrincipalID); err != nil {
		return stored, fmt.Errorf("%w: cache invalidation: %v", ErrRepositoryUnavailable, err)
	}
	return stored, nil
}

// DeleteAssignment delegates and invalidates the principal on success. The
// row is removed even when the returned error reports a failed invalidation.
func (c *CachedRepository) DeleteAssignment(ctx context.Context, principalID, roleSlug, tenantID string) error {
	if err := c.next.DeleteAssignment(ctx, principalID, roleSlug, tenantID); err != nil {
		return err
	}
	if err := c.Bump(ctx, principalID); err != nil {
		return fmt.Errorf("%w: cache invalidation: %v", ErrRepositoryUnavailable, err)
	}
	return nil
}

// Bump invalidates every cached list for the principal and announces it on
// BumpChannel. On failure the principal is read uncached by this instance
// until a later Bump succeeds.
func (c *CachedRepository) Bump(ctx context.Context, principalID string) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, assignmentsVersionKey+principalID).Err(); err != nil {
		c.stale.Store(principalID, struct{}{})
		c.logger.Error("rbac cache bump", slog.String("principal", principalID), slog.Any("error", err))
		return err
	}
	c.stale.Delete(principalID)
	if err := c.client.Publish(ctx, BumpChannel, principalID).Err(); err != nil {
		c.logger.Warn("rbac cache publish", slog.Any("error", err))
	}
	return nil
}

func (c *CachedRepository) version(ctx context.Context, principalID string) (int64, error) {
	ver, err := c.client.Get(ctx, assignmentsVersionKey+principalID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

var _ AssignmentRepository = (*CachedRepository)(nil)
