package detector

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"text-anonymizer/internal/logger"
)

// PersistentCache stores serialized detector findings keyed by a digest of
// the detector name and the analyzed text. Entries survive process restarts
// when backed by bbolt, so a recurring text unit skips the external round
// trip from the first request of a new run.
//
// Keys are digests, never text. All implementations must be safe for
// concurrent use.
type PersistentCache interface {
	// Get returns the cached value for key, if present.
	Get(key string) (value string, ok bool)

	// Set stores key → value. Overwrites any existing entry silently.
	Set(key, value string)

	// Delete removes key. Missing keys are ignored.
	Delete(key string)

	// Close releases any resources held by the cache (e.g. file handles).
	Close() error
}

// memory

// memoryCache is a thread-safe in-memory PersistentCache.
// Used in tests and when no cache path is configured.
type memoryCache struct {
	mu    sync.RWMutex
	store map[string]string
}

// NewMemoryCache returns an unbounded in-memory PersistentCache.
func NewMemoryCache() PersistentCache {
	return &memoryCache{store: make(map[string]string)}
}

func (c *memoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(key, value string) {
	c.mu.Lock()
	c.store[key] = value
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// bbolt

const boltBucket = "detections"

// boltCache is a PersistentCache backed by an embedded bbolt database.
type boltCache struct {
	db  *bolt.DB
	log *logger.Logger
}

// OpenBoltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists.
func OpenBoltCache(path string, log *logger.Logger) (PersistentCache, error) {
	if log == nil {
		log = logger.Nop()
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	log.Infof("cache_open", "persistent detection cache opened at %s", path)
	return &boltCache{db: db, log: log}, nil
}

func (c *boltCache) Get(key string) (string, bool) {
	var value string
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value, found = string(v), true
		}
		return nil
	})
	if err != nil {
		c.log.Warnf("cache_get", "bbolt get: %v", err)
		return "", false
	}
	return value, found
}

func (c *boltCache) Set(key, value string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", boltBucket)
		}
		return b.Put([]byte(key), []byte(value))
	}); err != nil {
		c.log.Warnf("cache_set", "bbolt set: %v", err)
	}
}

func (c *boltCache) Delete(key string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	}); err != nil {
		c.log.Warnf("cache_delete", "bbolt delete: %v", err)
	}
}

func (c *boltCache) Close() error {
	return c.db.Close()
}
