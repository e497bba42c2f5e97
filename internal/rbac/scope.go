package rbac

import (
	"context"
	"sync"
)

// requestCache memoises assignment lists for the lifetime of one request.
type requestCache struct {
	mu          sync.Mutex
	byPrincipal map[string][]Assignment
}

type requestCacheKey struct{}

// WithRequestCache returns a context whose authorization checks share one
// assignment lookup per principal. Grants and revocations made through the
// Engine with this context drop the affected principal's entry.
func WithRequestCache(ctx context.Context) context.Context {
	if requestCacheFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, requestCacheKey{}, &requestCache{byPrincipal: make(map[string][]Assignment)})
}

func requestCacheFrom(ctx context.Context) *requestCache {
	rc, _ := ctx.Value(requestCacheKey{}).(*requestCache)
	return rc
}

func (rc *requestCache) get(principalID string) ([]Assignment, bool) {
	if rc == nil {
		return nil, false
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rows, ok := rc.byPrincipal[principalID]
	return rows, ok
}

func (rc *requestCache) put(principalID string, rows []Assignment) {
	if rc == nil {
		return
	}
	rc.mu.Lock()
	rc.byPrincipal[principalID] = rows
	rc.mu.Unlock()
}

func (rc *requestCache) invalidate(principalID string) {
	if rc == nil {
		return
	}
	rc.mu.Lock()
	delete(rc.byPrincipal, principalID)
	rc.mu.Unlock()
}
