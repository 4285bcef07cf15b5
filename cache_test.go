package mybatis

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyUpdateIsStableAndOrderSensitive(t *testing.T) {
	a := NewCacheKey().Update("ns.select").Update(1).Update("x")
	b := NewCacheKey().Update("ns.select").Update(1).Update("x")
	assert.Equal(t, a.String(), b.String())

	c := NewCacheKey().Update("x").Update(1).Update("ns.select")
	assert.NotEqual(t, a.String(), c.String())
}

func TestPerpetualCacheBasicOps(t *testing.T) {
	c := newPerpetualCache("ns")
	assert.Equal(t, "ns", c.ID())
	_, ok := c.GetObject("k")
	assert.False(t, ok)

	c.PutObject("k", "v")
	v, ok := c.GetObject("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, c.Size())

	c.RemoveObject("k")
	assert.Equal(t, 0, c.Size())

	c.PutObject("a", 1)
	c.PutObject("b", 2)
	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestLruCacheEvictsEldestOnOverflow(t *testing.T) {
	c := newEvictionCache(newPerpetualCache("ns"), EvictionLRU, 2)
	c.PutObject("a", 1)
	c.PutObject("b", 2)
	c.PutObject("c", 3)

	assert.Equal(t, 2, c.Size())
	_, ok := c.GetObject("a")
	assert.False(t, ok, "eldest entry must have been evicted")
	_, ok = c.GetObject("b")
	assert.True(t, ok)
	_, ok = c.GetObject("c")
	assert.True(t, ok)
}

func TestLruCacheTouchOnGetDelaysEviction(t *testing.T) {
	c := newEvictionCache(newPerpetualCache("ns"), EvictionLRU, 2)
	c.PutObject("a", 1)
	c.PutObject("b", 2)
	c.GetObject("a") // touch a, making b the eldest
	c.PutObject("c", 3)

	_, ok := c.GetObject("a")
	assert.True(t, ok, "recently touched entry must survive eviction")
	_, ok = c.GetObject("b")
	assert.False(t, ok, "untouched entry must be evicted instead")
}

func TestFifoPolicyIgnoresGetWhenEvicting(t *testing.T) {
	c := newEvictionCache(newPerpetualCache("ns"), EvictionFIFO, 2)
	c.PutObject("a", 1)
	c.PutObject("b", 2)
	c.GetObject("a") // FIFO: touching on get must not delay eviction
	c.PutObject("c", 3)

	_, ok := c.GetObject("a")
	assert.False(t, ok, "FIFO evicts insertion order regardless of reads")
}

func TestScheduledFlushCacheClearsAfterInterval(t *testing.T) {
	delegate := newPerpetualCache("ns")
	c := newScheduledFlushCache(delegate, time.Millisecond)
	c.PutObject("a", 1)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.GetObject("a")
	assert.False(t, ok, "entry must be gone once the flush interval elapses")
}

func TestScheduledFlushCacheZeroIntervalNeverFlushes(t *testing.T) {
	c := newScheduledFlushCache(newPerpetualCache("ns"), 0)
	c.PutObject("a", 1)
	time.Sleep(2 * time.Millisecond)
	_, ok := c.GetObject("a")
	assert.True(t, ok)
}

func TestSerializedCacheRoundTripsGobEncodableValues(t *testing.T) {
	c := newSerializedCache(newPerpetualCache("ns"))
	c.PutObject("k", map[string]int{"x": 1})
	v, ok := c.GetObject("k")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"x": 1}, v)
}

func TestLoggingCacheDelegatesAndTracksHitRatio(t *testing.T) {
	c := newLoggingCache(newPerpetualCache("ns"), nil)
	c.PutObject("k", "v")
	_, ok := c.GetObject("k")
	assert.True(t, ok)
	_, ok = c.GetObject("missing")
	assert.False(t, ok)
	assert.Equal(t, int64(2), c.requests)
	assert.Equal(t, int64(1), c.hits)
}

func TestSynchronizedCacheSerializesConcurrentAccess(t *testing.T) {
	c := newSynchronizedCache(newPerpetualCache("ns"))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.PutObject("k", i)
			c.GetObject("k")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, c.Size())
}

func TestBlockingCacheGetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	c := newBlockingCache(newPerpetualCache("ns"))
	var calls int32
	var mu sync.Mutex
	load := func() (interface{}, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return "loaded", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad("k", load)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, "loaded", v)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), calls, "only one caller should have run load()")
}

func TestBlockingCacheGetOrLoadReturnsCachedValueWithoutLoading(t *testing.T) {
	delegate := newPerpetualCache("ns")
	delegate.PutObject("k", "cached")
	c := newBlockingCache(delegate)
	called := false
	v, err := c.GetOrLoad("k", func() (interface{}, error) {
		called = true
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", v)
	assert.False(t, called)
}

func TestCacheBuilderAssemblesFullChainAndDelegates(t *testing.T) {
	cache := NewCacheBuilder("ns.Namespace").
		Size(2).
		Eviction(EvictionLRU).
		Serialized().
		Blocking().
		Build()

	assert.Equal(t, "ns.Namespace", cache.ID())

	key := NewCacheKey().Update("ns.select").Update(1)
	_, ok := cache.Get(key)
	assert.False(t, ok)

	cache.Put(key, "hello")
	v, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	cache.Remove(key)
	_, ok = cache.Get(key)
	assert.False(t, ok)
}

func TestCacheBuilderEnforcesSizeLimitThroughFullChain(t *testing.T) {
	cache := NewCacheBuilder("ns").Size(1).Build()
	k1 := NewCacheKey().Update("a")
	k2 := NewCacheKey().Update("b")
	cache.Put(k1, "a")
	cache.Put(k2, "b")
	assert.Equal(t, 1, cache.Size())
}
