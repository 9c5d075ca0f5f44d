package authz

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// cacheTTL bounds how stale a resolved snapshot may be served. Writes to
// the assignment graph invalidate eagerly; the TTL only covers writers this
// process never sees.
const cacheTTL = 60 * time.Second

type cacheKey struct {
	userID   uuid.UUID
	tenantID uuid.UUID // uuid.Nil for the anchored view
}

type cacheEntry struct {
	snapshot *Snapshot
	expires  time.Time
}

// Resolver computes the effective role, permission, and policy sets for a
// principal, with a per-process read-through cache keyed by (user, tenant).
type Resolver struct {
	store Store
	now   func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

func NewResolver(store Store) *Resolver {
	return &Resolver{
		store: store,
		now:   time.Now,
		cache: make(map[cacheKey]cacheEntry),
	}
}

// Resolve produces the snapshot for (user, tenant). A nil tenant yields the
// landlord-anchored bootstrap view across every tenant the user belongs to.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID) (*Snapshot, error) {
	key := cacheKey{userID: userID}
	if tenantID != nil {
		key.tenantID = *tenantID
	}

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expires) {
		return entry.snapshot, nil
	}

	var snapshot *Snapshot
	var err error
	if tenantID != nil {
		snapshot, err = r.store.ResolveTenant(ctx, userID, *tenantID)
	} else {
		snapshot, err = r.store.ResolveAnchored(ctx, userID, nil)
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{snapshot: snapshot, expires: r.now().Add(cacheTTL)}
	r.mu.Unlock()

	return snapshot, nil
}

// ResolveAnchored is the explicit landlord-anchored view, used for
// super-admin bootstrap checks. Not cached: it is rare and privileged.
func (r *Resolver) ResolveAnchored(ctx context.Context, userID uuid.UUID, landlordID *uuid.UUID) (*Snapshot, error) {
	return r.store.ResolveAnchored(ctx, userID, landlordID)
}

// Invalidate drops the cached snapshot for one (user, tenant) pair.
// Administrative writes to assignments call this write-through.
func (r *Resolver) Invalidate(userID uuid.UUID, tenantID *uuid.UUID) {
	key := cacheKey{userID: userID}
	if tenantID != nil {
		key.tenantID = *tenantID
	}
	r.mu.Lock()
	delete(r.cache, key)
	delete(r.cache, cacheKey{userID: userID}) // anchored view derives from the same rows
	r.mu.Unlock()
}

// InvalidateAll empties the cache. Role and permission table writes affect
// an unknown set of principals, so they flush everything.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[cacheKey]cacheEntry)
	r.mu.Unlock()
}
