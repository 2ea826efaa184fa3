// Package profile holds the immutable detection configuration consumed by the
// recognizers and the resolution engine.
//
// A Profile is built once by the Loader and never mutated afterwards; it may
// be shared by any number of concurrent analyses without locking. Reloading a
// profile produces a new value.
package profile

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"text-anonymizer/internal/entity"
)

// DefaultName is the profile that lives at the root of the config directory.
const DefaultName = "default"

// Defaults applied when profile.yaml does not override them.
const (
	DefaultFuzzyThreshold  = 0.95
	DefaultExactScore      = 1.0
	DefaultScoreThreshold  = 0.5
	DefaultGrantEntityType = "OTHER"
	DefaultCoalesceGap     = 1
)

// Pattern is one configured regular expression. Regex uses RE2 syntax.
type Pattern struct {
	Name       string
	Regex      string
	EntityType string
	Score      float64

	// Group is the recognizer identifier that activates this pattern
	// ("phone", "ssn", ..., or "custom_regex" for loaded patterns).
	Group string

	// Invalidate rejects a raw match. Only built-in patterns set it.
	Invalidate func(match string) bool
}

// Membership says which curated list a term belongs to.
type Membership int

// List memberships.
const (
	Grant Membership = iota + 1
	Block
)

func (m Membership) String() string {
	switch m {
	case Grant:
		return "grant"
	case Block:
		return "block"
	}
	return "unknown"
}

// ListEntry is a normalized term and the list it came from.
type ListEntry struct {
	Term       string
	Words      int
	Membership Membership
}

// NewListEntry brings term into the comparison form used for text tokens
// and counts its words. It returns false for terms with nothing left.
func NewListEntry(term string, m Membership) (ListEntry, bool) {
	n := ComparisonForm(term)
	if n == "" {
		return ListEntry{}, false
	}
	return ListEntry{Term: n, Words: len(strings.Fields(n)), Membership: m}, true
}

// Coalesce controls merging of adjacent same-type entities.
type Coalesce struct {
	Enabled bool
	// MaxGap is the largest number of non-alphanumeric runes allowed
	// between two entities for them to merge.
	MaxGap int
}

// Profile is a named, read-only bundle of patterns, lists and thresholds.
type Profile struct {
	Name string

	Patterns  []Pattern
	GrantList []ListEntry
	BlockList []ListEntry

	FuzzyThreshold float64
	ExactScore     float64
	ScoreThreshold float64

	// GrantEntityType is the entity type assigned to grant-list matches.
	GrantEntityType string
	// PrefixMatch accepts a unit that starts with a list term as an exact
	// match, so an inflected form like "helsinkiin" hits "helsinki".
	PrefixMatch bool

	Coalesce       Coalesce
	SourcePriority []entity.Source

	// Labels maps entity type to its replacement token.
	Labels map[string]string

	// Recognizers is the default active recognizer set for this profile.
	Recognizers []string
}

// New returns a profile populated with the built-in patterns, labels and
// thresholds. Loader starts from this value before applying files.
func New(name string) *Profile {
	return &Profile{
		Name:            name,
		Patterns:        BuiltinPatterns(),
		FuzzyThreshold:  DefaultFuzzyThreshold,
		ExactScore:      DefaultExactScore,
		ScoreThreshold:  DefaultScoreThreshold,
		GrantEntityType: DefaultGrantEntityType,
		Coalesce:        Coalesce{MaxGap: DefaultCoalesceGap},
		SourcePriority:  append([]entity.Source(nil), entity.DefaultPriority...),
		Labels:          DefaultLabels(),
		Recognizers:     append([]string(nil), DefaultRecognizers...),
	}
}

// Label returns the replacement token for entityType. Types without a
// configured label render as "<ENTITY_TYPE>".
func (p *Profile) Label(entityType string) string {
	if l, ok := p.Labels[entityType]; ok && l != "" {
		return l
	}
	return "<" + entityType + ">"
}

// LabelTokens returns every configured label, longest first, without
// duplicates. Longest-first lets callers find the widest token at a position.
func (p *Profile) LabelTokens() []string {
	seen := make(map[string]struct{}, len(p.Labels))
	out := make([]string, 0, len(p.Labels))
	for _, l := range p.Labels {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// PatternsInGroup returns the patterns activated by the given recognizer id,
// in configuration order.
func (p *Profile) PatternsInGroup(group string) []Pattern {
	var out []Pattern
	for _, pat := range p.Patterns {
		if pat.Group == group {
			out = append(out, pat)
		}
	}
	return out
}

// Validate checks thresholds, pattern syntax and the priority order.
func (p *Profile) Validate() error {
	if err := checkUnit("fuzzy_threshold", p.FuzzyThreshold); err != nil {
		return &ConfigError{Kind: KindSettings, Subject: p.Name, Err: err}
	}
	if err := checkUnit("exact_score", p.ExactScore); err != nil {
		return &ConfigError{Kind: KindSettings, Subject: p.Name, Err: err}
	}
	if err := checkUnit("score_threshold", p.ScoreThreshold); err != nil {
		return &ConfigError{Kind: KindSettings, Subject: p.Name, Err: err}
	}
	if p.Coalesce.MaxGap < 0 {
		return &ConfigError{Kind: KindSettings, Subject: p.Name,
			Err: fmt.Errorf("coalesce max_gap must be >= 0, got %d", p.Coalesce.MaxGap)}
	}
	for _, pat := range p.Patterns {
		if err := checkUnit("score", pat.Score); err != nil {
			return &ConfigError{Kind: KindPattern, Subject: pat.Name, Err: err}
		}
		if pat.EntityType == "" {
			return &ConfigError{Kind: KindPattern, Subject: pat.Name, Err: fmt.Errorf("empty entity type")}
		}
		if _, err := regexp.Compile(pat.Regex); err != nil {
			return &ConfigError{Kind: KindPattern, Subject: pat.Name, Err: err}
		}
	}
	if err := checkPriority(p.SourcePriority); err != nil {
		return &ConfigError{Kind: KindSettings, Subject: p.Name, Err: err}
	}
	return nil
}

func checkUnit(field string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", field, v)
	}
	return nil
}

// checkPriority requires a permutation of the three sources so that the
// tie-break order is total.
func checkPriority(order []entity.Source) error {
	if len(order) != len(entity.DefaultPriority) {
		return fmt.Errorf("source_priority must list each of list, pattern, external exactly once")
	}
	seen := make(map[entity.Source]bool, len(order))
	for _, s := range order {
		if s < entity.SourceList || s > entity.SourceExternal || seen[s] {
			return fmt.Errorf("source_priority must list each of list, pattern, external exactly once")
		}
		seen[s] = true
	}
	return nil
}
