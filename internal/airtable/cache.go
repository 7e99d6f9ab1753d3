package airtable

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FieldLoader fetches the current field schema of a table.
type FieldLoader func(ctx context.Context, baseID, table string) (map[string]Field, error)

type cacheEntry struct {
	fields  map[string]Field
	expires time.Time
}

// FieldCache memoizes table schemas per "baseID:table" for a fixed TTL.
// Concurrent misses for the same key share one load.
type FieldCache struct {
	ttl    time.Duration
	load   FieldLoader
	now    func() time.Time
	group  singleflight.Group
	mu     sync.RWMutex
	fields map[string]cacheEntry
}

// NewFieldCache creates a cache. A non-positive ttl disables caching.
func NewFieldCache(ttl time.Duration, load FieldLoader) *FieldCache {
	return &FieldCache{
		ttl:    ttl,
		load:   load,
		now:    time.Now,
		fields: make(map[string]cacheEntry),
	}
}

func cacheKey(baseID, table string) string {
	return baseID + ":" + table
}

// Get returns the cached schema or loads it.
func (fc *FieldCache) Get(ctx context.Context, baseID, table string) (map[string]Field, error) {
	key := cacheKey(baseID, table)

	fc.mu.RLock()
	entry, ok := fc.fields[key]
	fc.mu.RUnlock()
	if ok && fc.now().Before(entry.expires) {
		return entry.fields, nil
	}

	v, err, _ := fc.group.Do(key, func() (any, error) {
		fields, err := fc.load(ctx, baseID, table)
		if err != nil {
			return nil, err
		}
		if fc.ttl > 0 {
			fc.mu.Lock()
			fc.fields[key] = cacheEntry{fields: fields, expires: fc.now().Add(fc.ttl)}
			fc.mu.Unlock()
		}
		return fields, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Field), nil
}

// Invalidate drops the cached schema for one table.
func (fc *FieldCache) Invalidate(baseID, table string) {
	fc.mu.Lock()
	delete(fc.fields, cacheKey(baseID, table))
	fc.mu.Unlock()
}
