// Package entity defines the shapes exchanged between recognizers, the
// resolution engine and every caller (CLI, REST API).
//
// All spans are half-open [Start, End) UTF-8 byte offsets into the original
// text. A span is valid when 0 <= Start < End <= len(text) and both ends sit
// on rune boundaries.
package entity

import (
	"context"
	"fmt"
	"strings"
)

// Source identifies the kind of recognizer that produced a candidate.
type Source int

// Recognizer sources. The zero value is deliberately invalid.
const (
	SourceList Source = iota + 1
	SourcePattern
	SourceExternal
)

// DefaultPriority is the tie-break order used when a profile does not set
// one: list > pattern > external.
var DefaultPriority = []Source{SourceList, SourcePattern, SourceExternal}

func (s Source) String() string {
	switch s {
	case SourceList:
		return "list"
	case SourcePattern:
		return "pattern"
	case SourceExternal:
		return "external"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// ParseSource converts "list", "pattern" or "external" (case-insensitive).
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "list":
		return SourceList, nil
	case "pattern":
		return SourcePattern, nil
	case "external":
		return SourceExternal, nil
	}
	return 0, fmt.Errorf("unknown source %q", s)
}

// MarshalText implements encoding.TextMarshaler so sources serialize as
// strings in JSON and YAML.
func (s Source) MarshalText() ([]byte, error) {
	if s < SourceList || s > SourceExternal {
		return nil, fmt.Errorf("invalid source %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Candidate is an unconfirmed entity proposal from one recognizer.
type Candidate struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Source     Source  `json:"source"`

	// Recognizer is the registry identifier of the producer. Used for
	// decision logging only; it is not part of the confirmed shape.
	Recognizer string `json:"recognizer,omitempty"`
}

// Len returns the span length in bytes.
func (c Candidate) Len() int { return c.End - c.Start }

// SuppressionMark is a span that no confirmed entity may intersect.
// Only block-list matches produce marks.
type SuppressionMark struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ConfirmedEntity is a candidate that survived suppression and overlap
// resolution. Text is filled only when the caller asks for verbose output.
type ConfirmedEntity struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Source     Source  `json:"source"`
	Text       string  `json:"text,omitempty"`
}

// Confirm strips a candidate down to the confirmed shape.
func Confirm(c Candidate) ConfirmedEntity {
	return ConfirmedEntity{
		EntityType: c.EntityType,
		Start:      c.Start,
		End:        c.End,
		Score:      c.Score,
		Source:     c.Source,
	}
}

// Findings is everything one recognizer reports for one text unit.
type Findings struct {
	Candidates   []Candidate
	Suppressions []SuppressionMark
}

// Recognizer produces findings from raw text using one detection strategy.
// Implementations must be safe for concurrent use and must not retain the
// text after Analyze returns.
type Recognizer interface {
	// Name returns the stable registry identifier, e.g. "phone" or "ner".
	Name() string
	// Source reports which class of signal this recognizer emits.
	Source() Source
	// Analyze inspects text and returns its findings.
	Analyze(ctx context.Context, text string) (Findings, error)
}

// Overlaps reports whether two half-open spans intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}
