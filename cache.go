package mybatis

import (
	"crypto/sha256"
	"encoding/gob"
	"bytes"
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/gogf/gf/os/glog"
	"golang.org/x/sync/singleflight"
)

// CacheKey is the composite key hashed over {statement id, offset, limit,
// SQL text, each parameter value, environment id}, per spec §4.H.
type CacheKey struct {
	hash  uint64
	parts []interface{}
}

func NewCacheKey() *CacheKey { return &CacheKey{} }

// Update folds another component into the key's hash: a SHA-256 over every
// component's fmt representation so far, truncated to its first 8 bytes —
// stable enough for an in-process cache key, mirroring how gdb_model_cache.go
// derives its cache key from the rendered SQL plus bound arguments.
func (k *CacheKey) Update(part interface{}) *CacheKey {
	k.parts = append(k.parts, part)
	h := sha256.New()
	for _, p := range k.parts {
		fmt.Fprintf(h, "%#v|", p)
	}
	sum := h.Sum(nil)
	var v uint64
	for i := 0; i < 8 && i < len(sum); i++ {
		v = v<<8 | uint64(sum[i])
	}
	k.hash = v
	return k
}

func (k *CacheKey) String() string { return fmt.Sprintf("%x", k.hash) }

// cacheStore is the minimal interface every decorator and the base store
// implement, so decorators can wrap one another uniformly (spec §4.H).
type cacheStore interface {
	ID() string
	GetObject(key string) (interface{}, bool)
	PutObject(key string, value interface{})
	RemoveObject(key string)
	Clear()
	Size() int
}

// Cache is the public handle a namespace's statements read/write through; it
// wraps whatever decorator chain was built for it.
type Cache struct {
	store cacheStore
	mu    sync.RWMutex
}

func (c *Cache) ID() string { return c.store.ID() }

func (c *Cache) Get(key *CacheKey) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.GetObject(key.String())
}

func (c *Cache) Put(key *CacheKey, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.PutObject(key.String(), value)
}

// blockingCacheStore is implemented by blockingCache; Cache.GetOrLoad type-
// asserts for it so a region built with CacheBuilder.Blocking() actually
// collapses concurrent misses through singleflight, rather than racing
// through plain Get/Put.
type blockingCacheStore interface {
	GetOrLoad(key string, load func() (interface{}, error)) (interface{}, error)
}

// GetOrLoad resolves key through the region's cache-miss coalescing when the
// chain was built with Blocking(); otherwise it falls back to a plain
// get-then-put, matching Cache.Get/Cache.Put's locking.
func (c *Cache) GetOrLoad(key *CacheKey, load func() (interface{}, error)) (interface{}, error) {
	if blocking, ok := c.store.(blockingCacheStore); ok {
		return blocking.GetOrLoad(key.String(), load)
	}
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.Put(key, v)
	return v, nil
}

func (c *Cache) Remove(key *CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.RemoveObject(key.String())
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Clear()
}

func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Size()
}

// ---- base perpetual store ----

type perpetualCache struct {
	id   string
	data map[string]interface{}
}

func newPerpetualCache(id string) *perpetualCache {
	return &perpetualCache{id: id, data: map[string]interface{}{}}
}

func (c *perpetualCache) ID() string { return c.id }
func (c *perpetualCache) GetObject(key string) (interface{}, bool) {
	v, ok := c.data[key]
	return v, ok
}
func (c *perpetualCache) PutObject(key string, value interface{}) { c.data[key] = value }
func (c *perpetualCache) RemoveObject(key string)                 { delete(c.data, key) }
func (c *perpetualCache) Clear()                                  { c.data = map[string]interface{}{} }
func (c *perpetualCache) Size() int                                { return len(c.data) }

// EvictionPolicy selects the eviction decorator's strategy (spec §4.H).
type EvictionPolicy int

const (
	EvictionLRU EvictionPolicy = iota
	EvictionFIFO
	EvictionSoft
	EvictionWeak
)

// lruCache (also used for FIFO, which is LRU without the touch-on-get) caps
// the delegate's size, evicting the eldest entry on overflow.
type lruCache struct {
	delegate cacheStore
	policy   EvictionPolicy
	size     int
	order    *list.List
	index    map[string]*list.Element
}

func newEvictionCache(delegate cacheStore, policy EvictionPolicy, size int) *lruCache {
	return &lruCache{delegate: delegate, policy: policy, size: size, order: list.New(), index: map[string]*list.Element{}}
}

func (c *lruCache) ID() string { return c.delegate.ID() }

func (c *lruCache) GetObject(key string) (interface{}, bool) {
	v, ok := c.delegate.GetObject(key)
	if ok && c.policy == EvictionLRU {
		if el, found := c.index[key]; found {
			c.order.MoveToBack(el)
		}
	}
	return v, ok
}

func (c *lruCache) PutObject(key string, value interface{}) {
	c.delegate.PutObject(key, value)
	if el, ok := c.index[key]; ok {
		c.order.MoveToBack(el)
	} else {
		c.index[key] = c.order.PushBack(key)
	}
	for c.order.Len() > c.size {
		eldest := c.order.Front()
		c.order.Remove(eldest)
		evictedKey := eldest.Value.(string)
		delete(c.index, evictedKey)
		c.delegate.RemoveObject(evictedKey)
	}
}

func (c *lruCache) RemoveObject(key string) {
	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
	c.delegate.RemoveObject(key)
}

func (c *lruCache) Clear() {
	c.order.Init()
	c.index = map[string]*list.Element{}
	c.delegate.Clear()
}

func (c *lruCache) Size() int { return c.delegate.Size() }

// scheduledFlushCache clears the delegate once Interval has elapsed since
// the last clear, checked lazily on each access (spec §4.H).
type scheduledFlushCache struct {
	delegate  cacheStore
	interval  time.Duration
	lastClear time.Time
}

func newScheduledFlushCache(delegate cacheStore, interval time.Duration) *scheduledFlushCache {
	return &scheduledFlushCache{delegate: delegate, interval: interval, lastClear: time.Now()}
}

func (c *scheduledFlushCache) checkFlush() {
	if c.interval > 0 && time.Since(c.lastClear) >= c.interval {
		c.delegate.Clear()
		c.lastClear = time.Now()
	}
}

func (c *scheduledFlushCache) ID() string { return c.delegate.ID() }
func (c *scheduledFlushCache) GetObject(key string) (interface{}, bool) {
	c.checkFlush()
	return c.delegate.GetObject(key)
}
func (c *scheduledFlushCache) PutObject(key string, value interface{}) {
	c.checkFlush()
	c.delegate.PutObject(key, value)
}
func (c *scheduledFlushCache) RemoveObject(key string) { c.delegate.RemoveObject(key) }
func (c *scheduledFlushCache) Clear() {
	c.delegate.Clear()
	c.lastClear = time.Now()
}
func (c *scheduledFlushCache) Size() int { return c.delegate.Size() }

// serializedCache round-trips values through gob on put/get so callers never
// observe (or mutate) the same instance the cache holds at rest.
type serializedCache struct{ delegate cacheStore }

func newSerializedCache(delegate cacheStore) *serializedCache { return &serializedCache{delegate: delegate} }

func (c *serializedCache) ID() string { return c.delegate.ID() }

func (c *serializedCache) GetObject(key string) (interface{}, bool) {
	v, ok := c.delegate.GetObject(key)
	if !ok {
		return nil, false
	}
	blob, ok := v.([]byte)
	if !ok {
		return v, true
	}
	var out interface{}
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&out); err != nil {
		return nil, false
	}
	return out, true
}

func (c *serializedCache) PutObject(key string, value interface{}) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		c.delegate.PutObject(key, value)
		return
	}
	c.delegate.PutObject(key, buf.Bytes())
}

func (c *serializedCache) RemoveObject(key string) { c.delegate.RemoveObject(key) }
func (c *serializedCache) Clear()                  { c.delegate.Clear() }
func (c *serializedCache) Size() int               { return c.delegate.Size() }

// loggingCache logs hit-rate statistics, grounded on gdb_core.go's
// request/response glog.Debug wrapping around cache-adjacent calls.
type loggingCache struct {
	delegate cacheStore
	logger   *glog.Logger
	requests int64
	hits     int64
}

func newLoggingCache(delegate cacheStore, logger *glog.Logger) *loggingCache {
	return &loggingCache{delegate: delegate, logger: logger}
}

func (c *loggingCache) ID() string { return c.delegate.ID() }
func (c *loggingCache) GetObject(key string) (interface{}, bool) {
	c.requests++
	v, ok := c.delegate.GetObject(key)
	if ok {
		c.hits++
	}
	if c.logger != nil {
		c.logger.Debugf("cache %s: hit ratio %d/%d", c.delegate.ID(), c.hits, c.requests)
	}
	return v, ok
}
func (c *loggingCache) PutObject(key string, value interface{}) { c.delegate.PutObject(key, value) }
func (c *loggingCache) RemoveObject(key string)                 { c.delegate.RemoveObject(key) }
func (c *loggingCache) Clear()                                  { c.delegate.Clear() }
func (c *loggingCache) Size() int                                { return c.delegate.Size() }

// synchronizedCache serializes all access with a mutex, making a region safe
// to share across sessions per spec §5.
type synchronizedCache struct {
	mu       sync.Mutex
	delegate cacheStore
}

func newSynchronizedCache(delegate cacheStore) *synchronizedCache {
	return &synchronizedCache{delegate: delegate}
}

func (c *synchronizedCache) ID() string { return c.delegate.ID() }
func (c *synchronizedCache) GetObject(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate.GetObject(key)
}
func (c *synchronizedCache) PutObject(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate.PutObject(key, value)
}
func (c *synchronizedCache) RemoveObject(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate.RemoveObject(key)
}
func (c *synchronizedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate.Clear()
}
func (c *synchronizedCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate.Size()
}

// blockingCache holds a per-key lock across a get-miss, using singleflight
// so concurrent misses on the same key collapse into one recompute instead
// of racing, per spec §4.H.
type blockingCache struct {
	delegate cacheStore
	group    singleflight.Group
}

func newBlockingCache(delegate cacheStore) *blockingCache {
	return &blockingCache{delegate: delegate}
}

func (c *blockingCache) ID() string { return c.delegate.ID() }
func (c *blockingCache) GetObject(key string) (interface{}, bool) {
	return c.delegate.GetObject(key)
}

// GetOrLoad is the blocking-cache entry point proper: on miss, exactly one
// caller per key runs load while the rest wait for its result.
func (c *blockingCache) GetOrLoad(key string, load func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.delegate.GetObject(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.delegate.GetObject(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.delegate.PutObject(key, v)
		return v, nil
	})
	return v, err
}

func (c *blockingCache) PutObject(key string, value interface{}) { c.delegate.PutObject(key, value) }
func (c *blockingCache) RemoveObject(key string)                 { c.delegate.RemoveObject(key) }
func (c *blockingCache) Clear()                                  { c.delegate.Clear() }
func (c *blockingCache) Size() int                                { return c.delegate.Size() }

// CacheBuilder assembles the decorator chain around the perpetual base store,
// wrapping in the order eviction -> scheduled-flush -> serialized -> logging
// -> synchronized -> blocking, so eviction sits innermost and blocking (when
// enabled) outermost, where Cache.GetOrLoad finds it.
type CacheBuilder struct {
	id             string
	size           int
	policy         EvictionPolicy
	flushInterval  time.Duration
	serialize      bool
	logger         *glog.Logger
	blocking       bool
}

func NewCacheBuilder(id string) *CacheBuilder {
	return &CacheBuilder{id: id, size: 1024, policy: EvictionLRU}
}

func (b *CacheBuilder) Size(n int) *CacheBuilder               { b.size = n; return b }
func (b *CacheBuilder) Eviction(p EvictionPolicy) *CacheBuilder { b.policy = p; return b }
func (b *CacheBuilder) FlushInterval(d time.Duration) *CacheBuilder {
	b.flushInterval = d
	return b
}
func (b *CacheBuilder) Serialized() *CacheBuilder { b.serialize = true; return b }
func (b *CacheBuilder) Logged(l *glog.Logger) *CacheBuilder { b.logger = l; return b }
func (b *CacheBuilder) Blocking() *CacheBuilder   { b.blocking = true; return b }

func (b *CacheBuilder) Build() *Cache {
	var store cacheStore = newPerpetualCache(b.id)
	store = newEvictionCache(store, b.policy, b.size)
	if b.flushInterval > 0 {
		store = newScheduledFlushCache(store, b.flushInterval)
	}
	if b.serialize {
		store = newSerializedCache(store)
	}
	if b.logger != nil {
		store = newLoggingCache(store, b.logger)
	}
	store = newSynchronizedCache(store)
	if b.blocking {
		store = newBlockingCache(store)
	}
	return &Cache{store: store}
}
