// Package metrics provides lightweight, lock-minimal counters for the
// anonymization engine, the batch drivers and the REST API.
//
// Counters use sync/atomic so the per-text hot path incurs no mutex
// contention. Latency statistics and the per-entity-type map use one mutex
// each; they are updated at most once per analysis.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// knownSources lists every candidate source. Used to pre-populate the
// per-source map in New() so Snapshot() iterates a fixed set without racing
// on map writes.
var knownSources = []string{"list", "pattern", "external"}

// Metrics holds all runtime counters for one process.
// The zero value is safe but drops per-source candidate counts; use New().
type Metrics struct {
	// Text unit counters
	TextsAnalyzed atomic.Int64
	TextsEmpty    atomic.Int64 // empty or invalid UTF-8 units passed through
	TextsFailed   atomic.Int64

	// Batch row counters
	RowsProcessed atomic.Int64
	RowsFailed    atomic.Int64

	// API request counters
	RequestsTotal atomic.Int64
	RequestsAuth  atomic.Int64 // rejected by the bearer-token check

	// Resolution counters
	Suppressed       atomic.Int64 // candidates removed by block-list marks
	BelowThreshold   atomic.Int64
	OverlapDiscarded atomic.Int64
	Coalesced        atomic.Int64
	LabelGuarded     atomic.Int64 // candidates touching an existing label token
	InvalidSpans     atomic.Int64

	// External detector counters
	ExternalErrors       atomic.Int64
	DetectionCacheHits   atomic.Int64
	DetectionCacheMisses atomic.Int64

	// Written only in New(); concurrent reads are safe without a lock.
	candidates map[string]*atomic.Int64

	entityMu sync.Mutex
	entities map[string]int64

	analysisMu   sync.Mutex
	analysisStat latencyStats

	externalMu   sync.Mutex
	externalStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and the per-source
// candidate counters pre-populated.
func New() *Metrics {
	m := &Metrics{
		startTime:  time.Now(),
		candidates: make(map[string]*atomic.Int64, len(knownSources)),
		entities:   make(map[string]int64),
	}
	for _, s := range knownSources {
		m.candidates[s] = new(atomic.Int64)
	}
	return m
}

// RecordCandidates adds n to the candidate counter for source.
// Unknown sources are silently ignored.
func (m *Metrics) RecordCandidates(source string, n int) {
	if c, ok := m.candidates[source]; ok {
		c.Add(int64(n))
	}
}

// RecordEntities adds n confirmed entities of the given type.
func (m *Metrics) RecordEntities(entityType string, n int) {
	m.entityMu.Lock()
	if m.entities == nil {
		m.entities = make(map[string]int64)
	}
	m.entities[entityType] += int64(n)
	m.entityMu.Unlock()
}

// RecordAnalysisLatency records the duration of one analysis.
func (m *Metrics) RecordAnalysisLatency(d time.Duration) {
	m.analysisMu.Lock()
	m.analysisStat.record(float64(d.Microseconds()) / 1000.0)
	m.analysisMu.Unlock()
}

// RecordExternalLatency records the round-trip time of one external detector call.
func (m *Metrics) RecordExternalLatency(d time.Duration) {
	m.externalMu.Lock()
	m.externalStat.record(float64(d.Microseconds()) / 1000.0)
	m.externalMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.analysisMu.Lock()
	analysis := m.analysisStat.snapshot()
	m.analysisMu.Unlock()

	m.externalMu.Lock()
	external := m.externalStat.snapshot()
	m.externalMu.Unlock()

	bySource := make(map[string]int64, len(m.candidates))
	for s, c := range m.candidates {
		if n := c.Load(); n > 0 {
			bySource[s] = n
		}
	}
	m.entityMu.Lock()
	byType := make(map[string]int64, len(m.entities))
	for t, n := range m.entities {
		byType[t] = n
	}
	m.entityMu.Unlock()

	return Snapshot{
		Texts: TextSnapshot{
			Analyzed: m.TextsAnalyzed.Load(),
			Empty:    m.TextsEmpty.Load(),
			Failed:   m.TextsFailed.Load(),
		},
		Rows: RowSnapshot{
			Processed: m.RowsProcessed.Load(),
			Failed:    m.RowsFailed.Load(),
		},
		Requests: RequestSnapshot{
			Total: m.RequestsTotal.Load(),
			Auth:  m.RequestsAuth.Load(),
		},
		Resolution: ResolutionSnapshot{
			CandidatesBySource: bySource,
			Suppressed:         m.Suppressed.Load(),
			BelowThreshold:     m.BelowThreshold.Load(),
			OverlapDiscarded:   m.OverlapDiscarded.Load(),
			Coalesced:          m.Coalesced.Load(),
			LabelGuarded:       m.LabelGuarded.Load(),
			InvalidSpans:       m.InvalidSpans.Load(),
			EntitiesByType:     byType,
		},
		External: ExternalSnapshot{
			Errors:      m.ExternalErrors.Load(),
			CacheHits:   m.DetectionCacheHits.Load(),
			CacheMisses: m.DetectionCacheMisses.Load(),
		},
		Latency: LatencyGroup{
			AnalysisMs: analysis,
			ExternalMs: external,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Texts      TextSnapshot       `json:"texts"`
	Rows       RowSnapshot        `json:"rows"`
	Requests   RequestSnapshot    `json:"requests"`
	Resolution ResolutionSnapshot `json:"resolution"`
	External   ExternalSnapshot   `json:"external"`
	Latency    LatencyGroup       `json:"latency"`
	UptimeSecs float64            `json:"uptimeSecs"`
}

// TextSnapshot holds text unit counters.
type TextSnapshot struct {
	Analyzed int64 `json:"analyzed"`
	Empty    int64 `json:"empty"`
	Failed   int64 `json:"failed"`
}

// RowSnapshot holds batch row counters.
type RowSnapshot struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// RequestSnapshot holds API request counters.
type RequestSnapshot struct {
	Total int64 `json:"total"`
	Auth  int64 `json:"auth"`
}

// ResolutionSnapshot holds merge engine counters. Only sources and entity
// types with non-zero counts appear in the maps.
type ResolutionSnapshot struct {
	CandidatesBySource map[string]int64 `json:"candidatesBySource,omitempty"`
	Suppressed         int64            `json:"suppressed"`
	BelowThreshold     int64            `json:"belowThreshold"`
	OverlapDiscarded   int64            `json:"overlapDiscarded"`
	Coalesced          int64            `json:"coalesced"`
	LabelGuarded       int64            `json:"labelGuarded"`
	InvalidSpans       int64            `json:"invalidSpans"`
	EntitiesByType     map[string]int64 `json:"entitiesByType,omitempty"`
}

// ExternalSnapshot holds external detector counters.
type ExternalSnapshot struct {
	Errors      int64 `json:"errors"`
	CacheHits   int64 `json:"cacheHits"`
	CacheMisses int64 `json:"cacheMisses"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	AnalysisMs LatencySnapshot `json:"analysisMs"`
	ExternalMs LatencySnapshot `json:"externalMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
