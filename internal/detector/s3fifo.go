package detector

// s3fifoCache fronts a PersistentCache with an in-memory S3-FIFO eviction
// layer, bounding both the hot in-memory footprint and the on-disk store.
//
// # Algorithm
//
// S3-FIFO (Yang et al., 2023) uses two FIFO queues and a bounded ghost set:
//
//   - S (small, ~10% of capacity): probationary queue. New keys land here.
//   - M (main, ~90% of capacity): keys promoted from S after at least one
//     hit while resident.
//   - G (ghost): keys recently evicted from S, bounded to 2× sTarget. A key
//     found in G on insert skips S and goes straight to M.
//
// Per-entry state is a saturating frequency counter (max 3), incremented on
// every hit and reset on promotion.
//
// # Eviction
//
//	S head: freq > 0 → promote to M tail; if M is over target, evict M head.
//	        freq == 0 → drop, remember in G, delete from backing store.
//	M head: drop, delete from backing store. M evictions do not enter G.
//
// Backing-store deletions run off the hot path; Close waits for them before
// closing the store. On restart the in-memory layer is cold and reads fall
// back to the backing store, re-warming the hot set.
//
// # Sizing
//
//	sTarget   = max(1, capacity/10)
//	mTarget   = capacity − sTarget
//	ghostCap  = max(4, 2 × sTarget)

import (
	"container/list"
	"sync"

	"text-anonymizer/internal/logger"
)

type s3fifoEntry struct {
	value string
	freq  uint8         // saturating counter in [0, 3]
	elem  *list.Element // back-pointer into sQueue or mQueue
	inM   bool
}

type s3fifoCache struct {
	mu sync.Mutex

	capacity int
	sTarget  int
	ghostCap int

	entries map[string]*s3fifoEntry

	// Each element Value is a string key.
	sQueue *list.List
	mQueue *list.List

	// Ghost: bounded ring buffer plus membership set.
	ghostBuf   []string
	ghostSet   map[string]struct{}
	ghostHead  int
	ghostCount int

	backing  PersistentCache
	deleting sync.WaitGroup
}

// NewS3FIFOCache returns a PersistentCache that applies S3-FIFO eviction in
// front of backing. capacity is the maximum number of entries kept in memory
// and on disk; values < 2 are clamped to 2.
func NewS3FIFOCache(backing PersistentCache, capacity int, log *logger.Logger) PersistentCache {
	if capacity < 2 {
		capacity = 2
	}
	sTarget := max(1, capacity/10)
	ghostCap := max(4, 2*sTarget)
	if log != nil {
		log.Debugf("cache_open", "S3-FIFO capacity=%d sTarget=%d ghostCap=%d", capacity, sTarget, ghostCap)
	}
	return &s3fifoCache{
		capacity: capacity,
		sTarget:  sTarget,
		ghostCap: ghostCap,
		entries:  make(map[string]*s3fifoEntry, capacity),
		sQueue:   list.New(),
		mQueue:   list.New(),
		ghostBuf: make([]string, ghostCap),
		ghostSet: make(map[string]struct{}, ghostCap),
		backing:  backing,
	}
}

// Get returns the value for key. A memory hit bumps the frequency counter;
// a miss consults the backing store and re-warms the entry on a hit there.
func (c *s3fifoCache) Get(key string) (string, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.freq < 3 {
			e.freq++
		}
		v := e.value
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	value, ok := c.backing.Get(key)
	if !ok {
		return "", false
	}
	c.insert(key, value)
	return value, true
}

// Set stores key → value in memory and in the backing store. An already
// resident key keeps its queue position.
func (c *s3fifoCache) Set(key, value string) {
	c.insert(key, value)
	c.backing.Set(key, value)
}

// Delete removes key from memory and from the backing store.
func (c *s3fifoCache) Delete(key string) {
	c.mu.Lock()
	c.removeFromMemory(key)
	c.mu.Unlock()
	c.backing.Delete(key)
}

// Close waits for pending backing deletions, then closes the backing store.
func (c *s3fifoCache) Close() error {
	c.deleting.Wait()
	return c.backing.Close()
}

func (c *s3fifoCache) insert(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		return
	}

	inM := c.ghostContains(key)
	var elem *list.Element
	if inM {
		elem = c.mQueue.PushBack(key)
	} else {
		elem = c.sQueue.PushBack(key)
	}
	c.entries[key] = &s3fifoEntry{value: value, elem: elem, inM: inM}

	for c.sQueue.Len()+c.mQueue.Len() > c.capacity {
		c.evictOne()
	}
}

// evictOne drops or promotes one entry, taking from S while S is non-empty.
// Caller holds c.mu.
func (c *s3fifoCache) evictOne() {
	if key, ok := popKey(c.sQueue); ok {
		c.demoteSmall(key)
		return
	}
	if key, ok := popKey(c.mQueue); ok {
		delete(c.entries, key)
		c.deleteBacking(key)
	}
}

// demoteSmall handles a key leaving S: read keys move to M, unread ones
// become ghosts. Caller holds c.mu.
func (c *s3fifoCache) demoteSmall(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.freq == 0 {
		delete(c.entries, key)
		c.ghostAdd(key)
		c.deleteBacking(key)
		return
	}
	e.freq, e.inM = 0, true
	e.elem = c.mQueue.PushBack(key)
	if c.mQueue.Len() <= c.capacity-c.sTarget {
		return
	}
	if old, ok := popKey(c.mQueue); ok {
		delete(c.entries, old)
		c.deleteBacking(old)
	}
}

func popKey(q *list.List) (string, bool) {
	front := q.Front()
	if front == nil {
		return "", false
	}
	q.Remove(front)
	key, ok := front.Value.(string)
	return key, ok
}

func (c *s3fifoCache) deleteBacking(key string) {
	c.deleting.Add(1)
	go func() {
		defer c.deleting.Done()
		c.backing.Delete(key)
	}()
}

// removeFromMemory must be called with c.mu held.
func (c *s3fifoCache) removeFromMemory(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.inM {
		c.mQueue.Remove(e.elem)
	} else {
		c.sQueue.Remove(e.elem)
	}
	delete(c.entries, key)
}

func (c *s3fifoCache) ghostContains(key string) bool {
	_, ok := c.ghostSet[key]
	return ok
}

// ghostAdd inserts key into the ring, dropping the oldest ghost when full.
func (c *s3fifoCache) ghostAdd(key string) {
	if _, exists := c.ghostSet[key]; exists {
		return
	}
	if c.ghostCount == c.ghostCap {
		oldest := c.ghostBuf[c.ghostHead]
		delete(c.ghostSet, oldest)
		c.ghostHead = (c.ghostHead + 1) % c.ghostCap
		c.ghostCount--
	}
	c.ghostBuf[(c.ghostHead+c.ghostCount)%c.ghostCap] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}
