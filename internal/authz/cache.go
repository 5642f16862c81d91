package authz

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheConfig bounds the session cache.
type CacheConfig struct {
	// MaxSessions caps tracked sessions; the least recently written is evicted. 0 is unbounded.
	MaxSessions int
	// SessionTTL matches the session lifetime; 0 keeps entries until evicted.
	SessionTTL time.Duration
	// RefreshEmpty treats a cached snapshot that grants nothing as a miss.
	RefreshEmpty bool
}

// Cache holds one snapshot per principal per session. No staleness TTL applies:
// an entry lives until invalidated or until its session expires.
//
// Every invalidation bumps a generation. PutIfCurrent refuses a snapshot whose
// discovery started before the latest invalidation that covers it.
type Cache struct {
	sessions     *expirable.LRU[string, *sessionEntry]
	refreshEmpty bool

	mu         sync.Mutex
	epoch      uint64
	principals map[int64]uint64
}

// Generation identifies the invalidation state a discovery started from.
type Generation struct {
	epoch     uint64
	principal uint64
}

type sessionEntry struct {
	mu        sync.RWMutex
	snapshots map[int64]*Snapshot
}

// NewCache constructs a Cache.
func NewCache(cfg CacheConfig) *Cache {
	size := cfg.MaxSessions
	if size < 0 {
		size = 0
	}
	return &Cache{
		sessions:     expirable.NewLRU[string, *sessionEntry](size, nil, cfg.SessionTTL),
		refreshEmpty: cfg.RefreshEmpty,
		principals:   make(map[int64]uint64),
	}
}

// Generation returns the current generation for principalID. Read it before
// discovery starts and hand it to PutIfCurrent.
func (c *Cache) Generation(principalID int64) Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Generation{epoch: c.epoch, principal: c.principals[principalID]}
}

// Get returns the cached snapshot for principalID within sessionID.
func (c *Cache) Get(sessionID string, principalID int64) (*Snapshot, bool) {
	entry, ok := c.sessions.Get(sessionID)
	if !ok {
		return nil, false
	}
	entry.mu.RLock()
	snap, ok := entry.snapshots[principalID]
	entry.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.refreshEmpty && snap.Empty() {
		return nil, false
	}
	return snap, true
}

// Put stores or replaces the snapshot for principalID within sessionID.
func (c *Cache) Put(sessionID string, principalID int64, snap *Snapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(sessionID, principalID, snap)
}

// PutIfCurrent stores snap only if no invalidation covering principalID
// happened since gen was read. It reports whether snap was stored.
func (c *Cache) PutIfCurrent(sessionID string, principalID int64, snap *Snapshot, gen Generation) bool {
	if snap == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen.epoch != c.epoch || gen.principal != c.principals[principalID] {
		return false
	}
	c.putLocked(sessionID, principalID, snap)
	return true
}

func (c *Cache) putLocked(sessionID string, principalID int64, snap *Snapshot) {
	entry, ok := c.sessions.Get(sessionID)
	if !ok {
		entry = &sessionEntry{snapshots: make(map[int64]*Snapshot)}
	}
	// Re-adding refreshes the session's expiry.
	c.sessions.Add(sessionID, entry)

	entry.mu.Lock()
	entry.snapshots[principalID] = snap
	entry.mu.Unlock()
}

// Invalidate removes principalID's snapshot from sessionID.
func (c *Cache) Invalidate(sessionID string, principalID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principals[principalID]++
	entry, ok := c.sessions.Peek(sessionID)
	if !ok {
		return
	}
	entry.mu.Lock()
	delete(entry.snapshots, principalID)
	entry.mu.Unlock()
}

// InvalidateAll clears every snapshot held for sessionID.
func (c *Cache) InvalidateAll(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.sessions.Remove(sessionID)
}

// InvalidatePrincipal removes principalID from every session and returns how many entries were dropped.
func (c *Cache) InvalidatePrincipal(principalID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principals[principalID]++
	removed := 0
	for _, entry := range c.sessions.Values() {
		entry.mu.Lock()
		if _, ok := entry.snapshots[principalID]; ok {
			delete(entry.snapshots, principalID)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}

// Purge drops every session.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	clear(c.principals)
	c.sessions.Purge()
}

// Sessions returns the number of tracked sessions.
func (c *Cache) Sessions() int {
	return c.sessions.Len()
}
