package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/metrics"
)

// Cached fronts a recognizer with a PersistentCache. Only successful results
// are stored; errors always reach the caller.
type Cached struct {
	inner   entity.Recognizer
	cache   PersistentCache
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewCached wraps inner. m and log may be nil.
func NewCached(inner entity.Recognizer, cache PersistentCache, m *metrics.Metrics, log *logger.Logger) *Cached {
	if log == nil {
		log = logger.Nop()
	}
	return &Cached{inner: inner, cache: cache, metrics: m, log: log}
}

// cachedFindings is the stored JSON shape.
type cachedFindings struct {
	Candidates   []entity.Candidate       `json:"candidates"`
	Suppressions []entity.SuppressionMark `json:"suppressions,omitempty"`
}

// Name returns the wrapped recognizer's identifier.
func (c *Cached) Name() string { return c.inner.Name() }

// Source returns the wrapped recognizer's source.
func (c *Cached) Source() entity.Source { return c.inner.Source() }

// Tagger is implemented by detectors whose findings depend on options. The
// tag is part of the cache key, so changing an option invalidates earlier
// entries.
type Tagger interface {
	CacheTag() string
}

// keyName returns the detector name qualified by its tag, if any.
func (c *Cached) keyName() string {
	if t, ok := c.inner.(Tagger); ok {
		if tag := t.CacheTag(); tag != "" {
			return c.inner.Name() + "|" + tag
		}
	}
	return c.inner.Name()
}

// Analyze returns cached findings for (name, options, text) or delegates
// and stores the result.
func (c *Cached) Analyze(ctx context.Context, text string) (entity.Findings, error) {
	key := CacheKey(c.keyName(), text)

	if raw, ok := c.cache.Get(key); ok {
		var f cachedFindings
		if err := json.Unmarshal([]byte(raw), &f); err == nil {
			if c.metrics != nil {
				c.metrics.DetectionCacheHits.Add(1)
			}
			return entity.Findings{Candidates: f.Candidates, Suppressions: f.Suppressions}, nil
		}
		c.log.Warnf("cache_get", "dropping undecodable entry for %s", c.inner.Name())
		c.cache.Delete(key)
	}
	if c.metrics != nil {
		c.metrics.DetectionCacheMisses.Add(1)
	}

	findings, err := c.inner.Analyze(ctx, text)
	if err != nil {
		return entity.Findings{}, err
	}
	raw, err := json.Marshal(cachedFindings{Candidates: findings.Candidates, Suppressions: findings.Suppressions})
	if err != nil {
		c.log.Warnf("cache_set", "encode findings for %s: %v", c.inner.Name(), err)
		return findings, nil
	}
	c.cache.Set(key, string(raw))
	return findings, nil
}

// CacheKey returns the hex SHA-256 of the detector name and text.
func CacheKey(name, text string) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
