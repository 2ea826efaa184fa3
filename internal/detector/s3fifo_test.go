package detector

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newS3FIFO(t *testing.T, backing PersistentCache, capacity int) *s3fifoCache {
	t.Helper()
	if backing == nil {
		backing = NewMemoryCache()
	}
	c := NewS3FIFOCache(backing, capacity, nil).(*s3fifoCache)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// findingsKey is a realistic cache key for the n-th text unit.
func findingsKey(n int) string {
	return CacheKey(NERName, fmt.Sprintf("text unit %d", n))
}

// resident reports whether key is in memory and whether it sits in the main
// queue.
func (c *s3fifoCache) resident(key string) (ok, inMain bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false, false
	}
	return true, e.inM
}

func TestS3FIFO_GetSetDelete(t *testing.T) {
	t.Parallel()
	c := newS3FIFO(t, nil, 10)
	key := findingsKey(1)

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, `{"candidates":[]}`)
	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, `{"candidates":[]}`, v)

	c.Set(key, `{"candidates":null}`)
	v, _ = c.Get(key)
	assert.Equal(t, `{"candidates":null}`, v, "Set overwrites")

	c.Delete(key)
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestS3FIFO_Capacity(t *testing.T) {
	t.Parallel()
	for _, capacity := range []int{2, 10, 64} {
		c := newS3FIFO(t, nil, capacity)
		for i := range 3 * capacity {
			c.Set(findingsKey(i), "{}")
		}
		c.mu.Lock()
		total := c.sQueue.Len() + c.mQueue.Len()
		c.mu.Unlock()
		assert.LessOrEqual(t, total, capacity, "capacity %d", capacity)
	}

	assert.Equal(t, 2, newS3FIFO(t, nil, 0).capacity, "clamped")
}

// With capacity 2 the small queue holds one entry; the third insert evicts
// from it.
func TestS3FIFO_SmallQueueEviction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		readFirst  bool
		wantStays  bool
		wantInMain bool
		wantGhost  bool
	}{
		{name: "read entry is promoted", readFirst: true, wantStays: true, wantInMain: true},
		{name: "unread entry goes to ghost", readFirst: false, wantStays: false, wantGhost: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newS3FIFO(t, nil, 2)
			first := findingsKey(0)
			c.Set(first, "{}")
			if tt.readFirst {
				c.Get(first)
			}
			c.Set(findingsKey(1), "{}")
			c.Set(findingsKey(2), "{}")

			stays, inMain := c.resident(first)
			assert.Equal(t, tt.wantStays, stays)
			assert.Equal(t, tt.wantInMain, inMain)
			c.mu.Lock()
			assert.Equal(t, tt.wantGhost, c.ghostContains(first))
			c.mu.Unlock()
		})
	}
}

func TestS3FIFO_GhostHitGoesToMain(t *testing.T) {
	t.Parallel()
	c := newS3FIFO(t, nil, 2)
	victim := findingsKey(0)
	c.Set(victim, "old")
	c.Set(findingsKey(1), "{}")
	c.Set(findingsKey(2), "{}")

	ok, _ := c.resident(victim)
	require.False(t, ok)

	c.Set(victim, "new")
	ok, inMain := c.resident(victim)
	require.True(t, ok)
	assert.True(t, inMain, "re-inserted ghost key skips the small queue")
	v, _ := c.Get(victim)
	assert.Equal(t, "new", v)
}

func TestS3FIFO_GhostBounded(t *testing.T) {
	t.Parallel()
	c := newS3FIFO(t, nil, 20)
	for i := range 4 * c.ghostCap {
		c.Set(findingsKey(i), "{}")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.LessOrEqual(t, c.ghostCount, c.ghostCap)
	assert.Len(t, c.ghostSet, c.ghostCount)
}

func TestS3FIFO_FrequencySaturates(t *testing.T) {
	t.Parallel()
	c := newS3FIFO(t, nil, 10)
	key := findingsKey(7)
	c.Set(key, "{}")
	for range 50 {
		c.Get(key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, 3, int(c.entries[key].freq))
}

func TestS3FIFO_BackingHitRewarms(t *testing.T) {
	t.Parallel()
	backing := NewMemoryCache()
	key := findingsKey(3)
	backing.Set(key, `{"candidates":[]}`) // written by an earlier run
	c := newS3FIFO(t, backing, 10)

	ok, _ := c.resident(key)
	require.False(t, ok)

	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, `{"candidates":[]}`, v)
	ok, _ = c.resident(key)
	assert.True(t, ok)
}

func TestS3FIFO_EvictionDeletesFromBacking(t *testing.T) {
	t.Parallel()
	backing := NewMemoryCache()
	c := NewS3FIFOCache(backing, 2, nil)
	c.Set("first", "v1")
	c.Set("second", "v2")
	c.Set("third", "v3")

	// Close waits for pending backing deletions.
	require.NoError(t, c.Close())
	_, ok := backing.Get("first")
	assert.False(t, ok)
	v, ok := backing.Get("third")
	assert.True(t, ok)
	assert.Equal(t, "v3", v)
}

func TestS3FIFO_BoltBacking(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "detections.db")
	store, err := OpenBoltCache(path, nil)
	require.NoError(t, err)
	c := NewS3FIFOCache(store, 100, nil)
	key := findingsKey(9)

	c.Set(key, `{"candidates":[]}`)
	require.NoError(t, c.Close())

	// A new process finds the entry on disk.
	store, err = OpenBoltCache(path, nil)
	require.NoError(t, err)
	c = NewS3FIFOCache(store, 100, nil)
	defer c.Close() //nolint:errcheck
	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, `{"candidates":[]}`, v)

	c.Delete(key)
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestS3FIFO_Concurrent(t *testing.T) {
	t.Parallel()
	c := newS3FIFO(t, nil, 100)

	var wg sync.WaitGroup
	for g := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 300 {
				key := findingsKey(g*1000 + i%40)
				c.Set(key, "{}")
				c.Get(key)
				if i%7 == 0 {
					c.Delete(key)
				}
			}
		}()
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.sQueue.Len() + c.mQueue.Len()
	assert.LessOrEqual(t, total, c.capacity)
	assert.Len(t, c.entries, total)
	assert.LessOrEqual(t, c.ghostCount, c.ghostCap)
}
