package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/logging"
)

// entry is the internal per-key record. An entry is expired iff its ttl is
// positive and now-created exceeds it.
type entry[K comparable, V any] struct {
	key         K
	value       V
	created     time.Time
	lastAccess  time.Time
	accessCount int
	ttl         time.Duration
	elem        *list.Element
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.created) > e.ttl
}

// Options configures a Cache.
type Options struct {
	// MaxSize bounds the number of entries. Once exceeded, least-recently-used
	// entries are evicted. Defaults to 128.
	MaxSize int

	// DefaultTTL applies to entries stored via Set. Zero means no expiry.
	DefaultTTL time.Duration

	// CleanupInterval is the period of the background janitor started by
	// Start. Zero disables the janitor; expiry then happens lazily only.
	CleanupInterval time.Duration

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Cache is a TTL+LRU key/value store safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	order   *list.List // front = most recently used
	opts    Options

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	HitRate     float64 `json:"hit_rate"`
}

// New creates a cache with optional overrides.
func New[K comparable, V any](optFns ...func(o *Options)) *Cache[K, V] {
	opts := Options{
		MaxSize: 128,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 128
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Cache[K, V]{
		entries: make(map[K]*entry[K, V]),
		order:   list.New(),
		opts:    opts,
	}
}

// Get returns the cached value for key and reports whether it was present.
// A hit moves the entry to the most-recently-used position; an expired entry
// counts as a miss and is evicted in place.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if e.expired(time.Now()) {
		c.removeLocked(e)
		c.expirations++
		c.misses++
		return zero, false
	}
	e.lastAccess = time.Now()
	e.accessCount++
	c.order.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetTTL(key, value, c.opts.DefaultTTL)
}

// SetTTL stores value under key with an entry-specific TTL (zero = no
// expiry). Storing over an existing key resets its timestamps. Once the
// cache exceeds MaxSize, least-recently-used entries are evicted.
func (c *Cache[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.created = now
		e.lastAccess = now
		e.ttl = ttl
		c.order.MoveToFront(e.elem)
		return
	}

	e := &entry[K, V]{key: key, value: value, created: now, lastAccess: now, ttl: ttl}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e

	for len(c.entries) > c.opts.MaxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry[K, V])
		c.removeLocked(victim)
		c.evictions++
		c.opts.Logger.Debug("cache entry evicted", "key", victim.key)
	}
}

// Delete removes key from the cache and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[K, V])
	c.order.Init()
}

// CleanupExpired removes every expired entry and returns how many were
// removed.
func (c *Cache[K, V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry[K, V])
		if e.expired(now) {
			c.removeLocked(e)
			c.expirations++
			removed++
		}
		elem = prev
	}
	return removed
}

// Len returns the current number of entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Size:        len(c.entries),
		MaxSize:     c.opts.MaxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Start launches the background janitor if a CleanupInterval is configured.
// It is a no-op otherwise. Stop cancels the janitor.
func (c *Cache[K, V]) Start(ctx context.Context) {
	if c.opts.CleanupInterval <= 0 {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.opts.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.CleanupExpired(); n > 0 {
					c.opts.Logger.Debug("cache cleanup removed expired entries", "count", n)
				}
			}
		}
	}()
}

// Stop cancels the janitor and waits for it to exit.
func (c *Cache[K, V]) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// removeLocked unlinks e from both the map and the LRU list. Caller must
// hold the mutex.
func (c *Cache[K, V]) removeLocked(e *entry[K, V]) {
	delete(c.entries, e.key)
	c.order.Remove(e.elem)
}
