package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/pkg/repo"
)

// PermissionCache stores effective permission sets per role and filter.
// Implementations must drop every entry of a role on InvalidateRole.
type PermissionCache interface {
	Get(ctx context.Context, tenantID, roleID uuid.UUID, key string) (map[string]access.Permission, bool)
	Set(ctx context.Context, tenantID, roleID uuid.UUID, key string, perms map[string]access.Permission)
	InvalidateRole(ctx context.Context, tenantID, roleID uuid.UUID)
}

// filterCacheKey identifies a filter within a role's cache entries.
func filterCacheKey(f access.Filter) string {
	node := "*"
	if f.NodeID != nil {
		node = f.NodeID.String()
	}
	return repo.CacheKey("effective", node, f.ResourceType, f.Action)
}

type noopPermissionCache struct{}

func (noopPermissionCache) Get(context.Context, uuid.UUID, uuid.UUID, string) (map[string]access.Permission, bool) {
	return nil, false
}

func (noopPermissionCache) Set(context.Context, uuid.UUID, uuid.UUID, string, map[string]access.Permission) {
}

func (noopPermissionCache) InvalidateRole(context.Context, uuid.UUID, uuid.UUID) {}

type roleKey struct {
	tenantID uuid.UUID
	roleID   uuid.UUID
}

type cacheEntry struct {
	perms     map[string]access.Permission
	expiresAt time.Time
}

type memoryPermissionCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     Clock
	entries map[roleKey]map[string]cacheEntry
}

// NewMemoryPermissionCache keeps entries in process for ttl (forever when ttl <= 0).
func NewMemoryPermissionCache(ttl time.Duration) PermissionCache {
	return &memoryPermissionCache{
		ttl:     ttl,
		now:     defaultClock,
		entries: make(map[roleKey]map[string]cacheEntry),
	}
}

func (c *memoryPermissionCache) Get(_ context.Context, tenantID, roleID uuid.UUID, key string) (map[string]access.Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[roleKey{tenantID, roleID}][key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return copyPermissionSet(e.perms), true
}

func (c *memoryPermissionCache) Set(_ context.Context, tenantID, roleID uuid.UUID, key string, perms map[string]access.Permission) {
	if tenantID == uuid.Nil || key == "" {
		return
	}
	e := cacheEntry{perms: copyPermissionSet(perms)}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rk := roleKey{tenantID, roleID}
	if _, ok := c.entries[rk]; !ok {
		c.entries[rk] = make(map[string]cacheEntry)
	}
	c.entries[rk][key] = e
}

func (c *memoryPermissionCache) InvalidateRole(_ context.Context, tenantID, roleID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, roleKey{tenantID, roleID})
}

func copyPermissionSet(in map[string]access.Permission) map[string]access.Permission {
	out := make(map[string]access.Permission, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
