package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// entry is what a store keeps per key; fetchedAt decides validity
type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

/*
	cache is one resource store: a keyed, time-expiring map with coarse invalidation.

	ttlcache does the bookkeeping and expires items on wall-clock time, but validity is
	always decided by isValid against the store's clock, so tests can move time without
	sleeping. Hits never extend an entry's life.

	Concurrent misses on the same key share one fetch through flight. The flight key
	carries the store's generation, which invalidateAll bumps: a fetch that started
	before an invalidation still returns to its callers but is never written back.
*/
type cache[V any] struct {
	name string
	ttl  time.Duration
	now  func() time.Time

	items  *ttlcache.Cache[string, entry[V]]
	flight singleflight.Group

	mu  sync.Mutex
	gen uint64
}

func newCache[V any](name string, ttl time.Duration, now func() time.Time) *cache[V] {
	if now == nil {
		now = time.Now
	}
	return &cache[V]{
		name: name,
		ttl:  ttl,
		now:  now,
		items: ttlcache.New[string, entry[V]](
			ttlcache.WithTTL[string, entry[V]](ttl),
			ttlcache.WithDisableTouchOnHit[string, entry[V]](),
		),
	}
}

func (c *cache[V]) isValid(e entry[V]) bool {
	return !e.fetchedAt.IsZero() && c.now().Sub(e.fetchedAt) < c.ttl
}

func (c *cache[V]) get(key string) (V, bool) {
	item := c.items.Get(key)
	if item != nil {
		e := item.Value()
		if c.isValid(e) {
			cacheHitsTotal.WithLabelValues(c.name).Inc()
			return e.value, true
		}
		c.items.Delete(key)
	}

	cacheMissesTotal.WithLabelValues(c.name).Inc()
	var zero V
	return zero, false
}

func (c *cache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value)
}

func (c *cache[V]) set(key string, value V) {
	c.items.Set(key, entry[V]{value: value, fetchedAt: c.now()}, ttlcache.DefaultTTL)
}

// putIfGen writes only when no invalidation happened since gen was read
func (c *cache[V]) putIfGen(key string, value V, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.set(key, value)
	return true
}

func (c *cache[V]) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *cache[V]) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.items.DeleteAll()
	cacheInvalidationsTotal.WithLabelValues(c.name).Inc()
}

func (c *cache[V]) len() int {
	return c.items.Len()
}

/*
	load is the read-through path: a valid entry is returned as is (hit == true); otherwise
	fetch runs at most once per key and generation and its result is cached. Errors are
	never cached.
*/
func (c *cache[V]) load(ctx context.Context, key string, fetch func(ctx context.Context) (V, error)) (V, bool, error) {
	if v, ok := c.get(key); ok {
		return v, true, nil
	}

	gen := c.generation()
	res, err, shared := c.flight.Do(fmt.Sprintf("%d|%s", gen, key), func() (interface{}, error) {
		remoteFetchesTotal.WithLabelValues(c.name).Inc()
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if !c.putIfGen(key, v, gen) {
			d("%s: dropped result for %s fetched before invalidation", c.name, key)
		}
		return v, nil
	})
	if shared {
		d("%s: shared in-flight fetch for %s", c.name, key)
	}
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}
