package artifact

import (
	"strings"
	"sync"
	"time"
)

// Cache is the versioned artifact cache, keyed by (tenant,
// rule-or-master). It owns all compiled artifacts exclusively; entries
// are replaced wholesale and the stored Artifact values are never
// mutated after insertion. Safe for concurrent use.
//
// Version assignment is read-then-write (NextVersion followed by Set).
// Queue-time deduplication guarantees at most one queued writer per
// key; an immediate compile racing a queued one for the same key is
// last-write-wins on version.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Artifact
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Artifact)}
}

// Get returns the cached artifact for a (tenant, rule) pair, or false
// if absent. An empty ruleID returns the tenant's master artifact.
// The returned Artifact must be treated as read-only.
func (c *Cache) Get(tenantID, ruleID string) (*Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.entries[Key(tenantID, ruleID)]
	return a, ok
}

// Set stores an artifact, overwriting any prior entry for its key.
func (c *Cache) Set(a *Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Key(a.TenantID, a.RuleID)] = a
}

// NextVersion returns the version a fresh compile of the given key
// should carry: current version + 1, or 1 if absent.
func (c *Cache) NextVersion(tenantID, ruleID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if a, ok := c.entries[Key(tenantID, ruleID)]; ok {
		return a.Version + 1
	}
	return 1
}

// Invalidate removes all entries for one tenant.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := tenantID + ":"
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Clear removes all entries for all tenants.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Artifact)
}

// Len returns the number of cached artifacts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TenantSummary reports the most recent compile time and the highest
// version across a tenant's cached artifacts. ok is false when the
// tenant has no entries.
func (c *Cache) TenantSummary(tenantID string) (lastCompiledAt time.Time, lastVersion int, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prefix := tenantID + ":"
	for key, a := range c.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		ok = true
		if a.CompiledAt.After(lastCompiledAt) {
			lastCompiledAt = a.CompiledAt
		}
		if a.Version > lastVersion {
			lastVersion = a.Version
		}
	}
	return lastCompiledAt, lastVersion, ok
}
