// Package recognizer implements the deterministic recognizers: regular
// expression patterns and curated grant/block term lists.
package recognizer

import (
	"context"
	"regexp"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/profile"
)

type compiledPattern struct {
	profile.Pattern
	re *regexp.Regexp
}

// Pattern evaluates a fixed set of regular expressions. Each match becomes
// one candidate carrying the pattern's entity type and score; matches of
// different patterns may overlap and are left for the merge step.
type Pattern struct {
	id       string
	patterns []compiledPattern
}

// NewPattern compiles patterns under the recognizer identifier id. An
// invalid expression is a *profile.ConfigError.
func NewPattern(id string, patterns []profile.Pattern) (*Pattern, error) {
	r := &Pattern{id: id, patterns: make([]compiledPattern, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, &profile.ConfigError{Kind: profile.KindPattern, Subject: p.Name, Err: err}
		}
		r.patterns = append(r.patterns, compiledPattern{Pattern: p, re: re})
	}
	return r, nil
}

// Name returns the recognizer identifier.
func (r *Pattern) Name() string { return r.id }

// Source reports entity.SourcePattern.
func (r *Pattern) Source() entity.Source { return entity.SourcePattern }

// Analyze runs every pattern over text. Within one pattern matches are
// non-overlapping and leftmost-first.
func (r *Pattern) Analyze(ctx context.Context, text string) (entity.Findings, error) {
	var out entity.Findings
	for _, p := range r.patterns {
		if err := ctx.Err(); err != nil {
			return entity.Findings{}, err
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			if p.Invalidate != nil && p.Invalidate(text[loc[0]:loc[1]]) {
				continue
			}
			out.Candidates = append(out.Candidates, entity.Candidate{
				EntityType: p.EntityType,
				Start:      loc[0],
				End:        loc[1],
				Score:      p.Score,
				Source:     entity.SourcePattern,
				Recognizer: r.id,
			})
		}
	}
	return out, nil
}

// Len returns the number of compiled patterns.
func (r *Pattern) Len() int { return len(r.patterns) }
