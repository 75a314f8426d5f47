// Package cache implements a generic in-memory key/value cache combining
// per-entry TTL expiry with LRU eviction. A single mutex per cache instance
// serializes all operations, so readers never observe stale entries under
// concurrency. Expired entries are evicted lazily on access and swept by an
// optional background janitor.
package cache
