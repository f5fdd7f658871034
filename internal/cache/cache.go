// Package cache provides a namespaced key/value cache with TTL expiry, a
// bounded in-memory layer and one durable record per key so results survive
// restarts.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the in-memory layer when no limit is configured.
const DefaultMaxEntries = 1000

// Entry is a single cached record. The same shape is written to the durable
// layer, one JSON file per key.
type Entry struct {
	Key        string            `json:"key"`
	Value      json.RawMessage   `json:"value"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	AccessedAt time.Time         `json:"-"`
	Accesses   int               `json:"-"`
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a namespaced store with an LRU-bounded memory layer and an
// optional durable file layer. Cache failures never propagate to callers:
// every failure path degrades to a miss so the caller can re-fetch.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*lruEntry
	order      *lruList
	maxEntries int
	persist    *filePersist
	stats      Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries bounds the number of live entries held in memory.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithDir enables the durable layer rooted at dir.
func WithDir(dir string) Option {
	return func(c *Cache) {
		p, err := newFilePersist(dir)
		if err != nil {
			slog.Warn("cache: durable layer unavailable, continuing memory-only", "dir", dir, "error", err)
			return
		}
		c.persist = p
	}
}

// New creates a cache. With no options it is memory-only with
// DefaultMaxEntries capacity.
func New(options ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*lruEntry),
		order:      newLRUList(),
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Key derives the deterministic cache key for a namespace and parameter set.
// Params are serialized with sorted field names so logically identical
// requests always collide to the same key regardless of field order.
func Key(namespace string, params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(namespace)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		// Errors are impossible for the plain string/number params used here,
		// and a non-serializable value still yields a stable empty token.
		raw, _ := json.Marshal(params[name])
		b.Write(raw)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return namespace + "_" + hex.EncodeToString(sum[:16])
}

// Get returns the live value stored for (namespace, params), or ok=false on
// a miss. Expired entries are treated as absent and their durable records
// are pruned on access.
func (c *Cache) Get(namespace string, params map[string]any) (json.RawMessage, bool) {
	key := Key(namespace, params)
	now := time.Now()

	c.mu.Lock()
	if le, ok := c.entries[key]; ok {
		if now.Before(le.entry.ExpiresAt) {
			le.entry.AccessedAt = now
			le.entry.Accesses++
			c.order.moveToFront(le)
			c.stats.Hits++
			value := le.entry.Value
			c.mu.Unlock()
			return value, true
		}
		// Expired in memory: drop both layers.
		c.removeLocked(key, le)
	}
	c.mu.Unlock()

	if c.persist == nil {
		c.recordMiss()
		return nil, false
	}

	entry, found := c.persist.load(key)
	if !found {
		c.recordMiss()
		return nil, false
	}
	if !now.Before(entry.ExpiresAt) {
		c.persist.delete(key)
		c.recordMiss()
		return nil, false
	}

	// Promote to the memory layer for future hits.
	c.mu.Lock()
	c.insertLocked(key, entry)
	c.stats.Hits++
	c.mu.Unlock()
	return entry.Value, true
}

// Set stores value under (namespace, params) with expiry now+ttl, evicting
// the least-recently-used entry when at capacity. Durable write failures are
// logged and ignored; the memory layer is always updated.
func (c *Cache) Set(namespace string, params map[string]any, value json.RawMessage, ttl time.Duration, metadata map[string]string) {
	key := Key(namespace, params)
	now := time.Now()

	md := map[string]string{"namespace": namespace}
	for k, v := range metadata {
		md[k] = v
	}

	entry := &Entry{
		Key:        key,
		Value:      value,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Metadata:   md,
		AccessedAt: now,
	}

	c.mu.Lock()
	c.insertLocked(key, entry)
	c.mu.Unlock()

	if c.persist != nil {
		if err := c.persist.store(entry); err != nil {
			slog.Warn("cache: durable write failed", "key", key, "error", err)
		}
	}
}

// Delete removes the entry for (namespace, params) from both layers.
func (c *Cache) Delete(namespace string, params map[string]any) {
	key := Key(namespace, params)

	c.mu.Lock()
	if le, ok := c.entries[key]; ok {
		c.detachLocked(key, le)
	}
	c.mu.Unlock()

	if c.persist != nil {
		c.persist.delete(key)
	}
}

// ClearNamespace removes every entry whose metadata namespace matches.
func (c *Cache) ClearNamespace(namespace string) {
	c.mu.Lock()
	for key, le := range c.entries {
		if le.entry.Metadata["namespace"] == namespace {
			c.detachLocked(key, le)
		}
	}
	c.mu.Unlock()

	if c.persist != nil {
		c.persist.deleteNamespace(namespace)
	}
}

// ClearAll empties both layers.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[string]*lruEntry)
	c.order = newLRUList()
	c.mu.Unlock()

	if c.persist != nil {
		c.persist.deleteAll()
	}
}

// Len returns the number of entries currently held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

// insertLocked adds or replaces an entry, evicting LRU as needed.
func (c *Cache) insertLocked(key string, entry *Entry) {
	if le, ok := c.entries[key]; ok {
		le.entry = entry
		c.order.moveToFront(le)
		return
	}
	for len(c.entries) >= c.maxEntries {
		victim := c.order.back()
		if victim == nil {
			break
		}
		c.removeLocked(victim.key, victim)
		c.stats.Evictions++
	}
	le := &lruEntry{key: key, entry: entry}
	c.entries[key] = le
	c.order.pushFront(le)
}

// removeLocked drops an entry from memory and its durable record.
func (c *Cache) removeLocked(key string, le *lruEntry) {
	c.detachLocked(key, le)
	if c.persist != nil {
		c.persist.delete(key)
	}
}

// detachLocked drops an entry from the memory layer only.
func (c *Cache) detachLocked(key string, le *lruEntry) {
	delete(c.entries, key)
	c.order.remove(le)
}
