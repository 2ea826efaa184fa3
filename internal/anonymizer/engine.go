// Package anonymizer resolves recognizer findings into confirmed entities
// and rewrites text with category labels.
//
// An Engine binds one immutable profile to a resolved recognizer set. For
// each text unit it runs the recognizers concurrently, drops malformed spans
// and spans touching existing label tokens, merges the rest, and optionally
// rewrites the text. Engines hold no per-call state and are safe for
// concurrent use.
package anonymizer

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/metrics"
	"text-anonymizer/internal/profile"
)

const tracerName = "text-anonymizer/internal/anonymizer"

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records counters and latencies into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the decision logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTracer overrides the otel tracer. The global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// Engine analyzes and anonymizes text units under one profile.
type Engine struct {
	profile     *profile.Profile
	recognizers []entity.Recognizer
	policy      Policy
	labels      []string

	metrics *metrics.Metrics
	log     *logger.Logger
	tracer  trace.Tracer
}

// NewEngine binds p to recognizers. Both are retained and never modified.
func NewEngine(p *profile.Profile, recognizers []entity.Recognizer, opts ...Option) *Engine {
	e := &Engine{
		profile:     p,
		recognizers: recognizers,
		policy:      PolicyFor(p),
		labels:      p.LabelTokens(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Profile returns the bound profile.
func (e *Engine) Profile() *profile.Profile { return e.profile }

// RecognizerNames returns the identifiers of the active recognizers in
// resolution order.
func (e *Engine) RecognizerNames() []string {
	names := make([]string, len(e.recognizers))
	for i, r := range e.recognizers {
		names[i] = r.Name()
	}
	return names
}

type recognizerResult struct {
	findings entity.Findings
	err      error
	elapsed  time.Duration
}

// Analyze returns the confirmed entities of text. Empty and invalid UTF-8
// input yield no entities together with ErrEmptyText or ErrInvalidText.
// External detector failures are logged and counted; analysis continues
// with the remaining recognizers.
func (e *Engine) Analyze(ctx context.Context, text string) ([]entity.ConfirmedEntity, error) {
	if strings.TrimSpace(text) == "" {
		e.metrics.TextsEmpty.Add(1)
		return []entity.ConfirmedEntity{}, ErrEmptyText
	}
	if !utf8.ValidString(text) {
		e.metrics.TextsEmpty.Add(1)
		return []entity.ConfirmedEntity{}, ErrInvalidText
	}

	ctx, span := e.tracer.Start(ctx, "anonymizer.Analyze", trace.WithAttributes(
		attribute.String("profile", e.profile.Name),
		attribute.Int("text.bytes", len(text)),
		attribute.Int("recognizers", len(e.recognizers)),
	))
	defer span.End()
	started := time.Now()

	results := make([]recognizerResult, len(e.recognizers))
	var g errgroup.Group
	for i, r := range e.recognizers {
		g.Go(func() error {
			t0 := time.Now()
			f, err := r.Analyze(ctx, text)
			results[i] = recognizerResult{findings: f, err: err, elapsed: time.Since(t0)}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		e.metrics.TextsFailed.Add(1)
		span.SetStatus(codes.Error, "cancelled")
		return []entity.ConfirmedEntity{}, err
	}

	var candidates []entity.Candidate
	var marks []entity.SuppressionMark
	for i, r := range e.recognizers {
		res := results[i]
		if r.Source() == entity.SourceExternal {
			e.metrics.RecordExternalLatency(res.elapsed)
		}
		if res.err != nil {
			if r.Source() == entity.SourceExternal {
				e.metrics.ExternalErrors.Add(1)
				e.log.Warnf("external", "recognizer %s failed, continuing without it: %v", r.Name(), res.err)
				span.AddEvent("external_error", trace.WithAttributes(attribute.String("recognizer", r.Name())))
				continue
			}
			e.metrics.TextsFailed.Add(1)
			span.RecordError(res.err)
			span.SetStatus(codes.Error, "recognizer failed")
			return []entity.ConfirmedEntity{}, fmt.Errorf("recognizer %s: %w", r.Name(), res.err)
		}
		for _, c := range res.findings.Candidates {
			if c.Recognizer == "" {
				c.Recognizer = r.Name()
			}
			candidates = append(candidates, c)
		}
		marks = append(marks, res.findings.Suppressions...)
		e.metrics.RecordCandidates(r.Source().String(), len(res.findings.Candidates))
	}

	candidates, marks = e.sanitize(text, candidates, marks)
	confirmed, stats := Merge(text, candidates, marks, e.policy)

	e.metrics.TextsAnalyzed.Add(1)
	e.metrics.BelowThreshold.Add(int64(stats.BelowThreshold))
	e.metrics.Suppressed.Add(int64(stats.Suppressed))
	e.metrics.OverlapDiscarded.Add(int64(stats.OverlapDiscarded))
	e.metrics.Coalesced.Add(int64(stats.Coalesced))
	for entityType, n := range countTypes(confirmed) {
		e.metrics.RecordEntities(entityType, n)
	}
	e.metrics.RecordAnalysisLatency(time.Since(started))

	e.log.Debugf("analyze", "candidates=%d marks=%d below=%d suppressed=%d overlap=%d coalesced=%d confirmed=%d",
		len(candidates), len(marks), stats.BelowThreshold, stats.Suppressed, stats.OverlapDiscarded, stats.Coalesced, len(confirmed))
	span.SetAttributes(attribute.Int("entities", len(confirmed)))
	return confirmed, nil
}

// Anonymize rewrites text with the profile's labels.
func (e *Engine) Anonymize(text string, entities []entity.ConfirmedEntity, verbose bool) (Result, error) {
	return Rewrite(text, entities, e.profile.Label, verbose)
}

// Process analyzes and anonymizes text. On a per-unit error the result
// carries the text unchanged and no entities, and the error is returned
// alongside it.
func (e *Engine) Process(ctx context.Context, text string, verbose bool) (Result, error) {
	entities, err := e.Analyze(ctx, text)
	if err != nil {
		return Result{AnonymizedText: text, Entities: []entity.ConfirmedEntity{}, Statistics: map[string]int{}}, err
	}
	return e.Anonymize(text, entities, verbose)
}

// sanitize drops malformed spans and anything that touches a label token
// already present in text, so anonymized output is a fixed point.
func (e *Engine) sanitize(text string, candidates []entity.Candidate, marks []entity.SuppressionMark) ([]entity.Candidate, []entity.SuppressionMark) {
	guards := labelSpans(text, e.labels)

	kept := candidates[:0]
	for _, c := range candidates {
		if !validSpan(text, c.Start, c.End) || c.EntityType == "" || c.Score < 0 || c.Score > 1 {
			e.metrics.InvalidSpans.Add(1)
			e.log.Debugf("validate", "dropping %s span [%d,%d) from %s", c.EntityType, c.Start, c.End, c.Recognizer)
			continue
		}
		if intersectsAny(c.Start, c.End, guards) {
			e.metrics.LabelGuarded.Add(1)
			continue
		}
		kept = append(kept, c)
	}

	validMarks := marks[:0]
	for _, m := range marks {
		if m.Start < m.End && m.Start >= 0 && m.End <= len(text) {
			validMarks = append(validMarks, m)
		}
	}
	return kept, validMarks
}

// validSpan requires 0 <= start < end <= len(text) on rune boundaries.
func validSpan(text string, start, end int) bool {
	if start < 0 || start >= end || end > len(text) {
		return false
	}
	if !utf8.RuneStart(text[start]) {
		return false
	}
	return end == len(text) || utf8.RuneStart(text[end])
}

// labelSpans finds every occurrence of every label token. labels is
// longest first so the widest token claims a position.
func labelSpans(text string, labels []string) []entity.SuppressionMark {
	var spans []entity.SuppressionMark
	for _, l := range labels {
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], l)
			if i < 0 {
				break
			}
			start := from + i
			spans = append(spans, entity.SuppressionMark{Start: start, End: start + len(l)})
			from = start + len(l)
		}
	}
	return spans
}

func intersectsAny(start, end int, spans []entity.SuppressionMark) bool {
	for _, s := range spans {
		if entity.Overlaps(start, end, s.Start, s.End) {
			return true
		}
	}
	return false
}

func countTypes(entities []entity.ConfirmedEntity) map[string]int {
	out := make(map[string]int)
	for _, e := range entities {
		out[e.EntityType]++
	}
	return out
}
