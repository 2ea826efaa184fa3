package recognizer

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/profile"
)

// thresholdEpsilon absorbs float error so a similarity that is exactly the
// threshold in decimal (1 - 1/20 == 0.95) is accepted.
const thresholdEpsilon = 1e-9

// Mode selects what a list match produces.
type Mode int

// List modes.
const (
	// Grant matches become candidates.
	Grant Mode = iota + 1
	// Block matches become suppression marks and never candidates.
	Block
)

// List matches text units against one curated term list using exact and
// fuzzy (Levenshtein) comparison.
type List struct {
	id         string
	mode       Mode
	entries    []profile.ListEntry
	wordCounts []int // distinct entry word counts, largest first
	exact      map[string]struct{}

	threshold  float64
	exactScore float64
	entityType string
	prefix     bool
}

// NewList builds a list recognizer from the profile's grant or block list.
func NewList(id string, mode Mode, p *profile.Profile) *List {
	src := p.GrantList
	if mode == Block {
		src = p.BlockList
	}
	entries := append([]profile.ListEntry(nil), src...)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Words != entries[j].Words {
			return entries[i].Words > entries[j].Words
		}
		return entries[i].Term < entries[j].Term
	})

	l := &List{
		id:         id,
		mode:       mode,
		entries:    entries,
		exact:      make(map[string]struct{}, len(entries)),
		threshold:  p.FuzzyThreshold,
		exactScore: p.ExactScore,
		entityType: p.GrantEntityType,
		prefix:     p.PrefixMatch,
	}
	for _, e := range entries {
		l.exact[e.Term] = struct{}{}
		if n := len(l.wordCounts); n == 0 || l.wordCounts[n-1] != e.Words {
			l.wordCounts = append(l.wordCounts, e.Words)
		}
	}
	return l
}

// Name returns the recognizer identifier.
func (l *List) Name() string { return l.id }

// Source reports entity.SourceList.
func (l *List) Source() entity.Source { return entity.SourceList }

// Analyze scans text left to right.
//
// In Grant mode it tries the entries with the most words first at each
// token; the best-scoring entry of the first word count that matches wins
// and the scan resumes after the matched unit.
//
// In Block mode every matching unit yields a mark, at every word count and
// every token, so overlapping block terms are all suppressed.
func (l *List) Analyze(ctx context.Context, text string) (entity.Findings, error) {
	var out entity.Findings
	if len(l.entries) == 0 {
		return out, nil
	}
	tokens := tokenize(text)

	for i := 0; i < len(tokens); {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return entity.Findings{}, err
			}
		}
		if l.mode == Block {
			for _, w := range l.wordCounts {
				if _, ok := l.matchUnit(tokens, i, w); ok {
					out.Suppressions = append(out.Suppressions, entity.SuppressionMark{
						Start: tokens[i].start,
						End:   tokens[i+w-1].end,
					})
				}
			}
			i++
			continue
		}

		words, score, ok := l.matchAt(tokens, i)
		if !ok {
			i++
			continue
		}
		out.Candidates = append(out.Candidates, entity.Candidate{
			EntityType: l.entityType,
			Start:      tokens[i].start,
			End:        tokens[i+words-1].end,
			Score:      score,
			Source:     entity.SourceList,
			Recognizer: l.id,
		})
		i += words
	}
	return out, nil
}

// matchAt returns the largest word count with a match at token i.
func (l *List) matchAt(tokens []token, i int) (words int, score float64, ok bool) {
	for _, w := range l.wordCounts {
		if score, ok := l.matchUnit(tokens, i, w); ok {
			return w, score, true
		}
	}
	return 0, 0, false
}

// matchUnit compares the w tokens starting at i with the entries of w
// words and returns the best accepted score.
func (l *List) matchUnit(tokens []token, i, w int) (float64, bool) {
	if i+w > len(tokens) {
		return 0, false
	}
	unit := joinNorm(tokens[i : i+w])
	if _, hit := l.exact[unit]; hit {
		return l.exactScore, true
	}

	best := -1.0
	for _, e := range l.entries {
		if e.Words != w {
			continue
		}
		if l.prefix && strings.HasPrefix(unit, e.Term) {
			return l.exactScore, true
		}
		if !l.reachable(unit, e.Term) {
			continue
		}
		if sim := Similarity(unit, e.Term); sim > best {
			best = sim
		}
	}
	if best >= 0 && Accept(best, l.threshold) {
		return best, true
	}
	return 0, false
}

// reachable prunes pairs whose length difference alone puts them below the
// threshold.
func (l *List) reachable(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return true
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return Accept(1-float64(diff)/float64(longest), l.threshold)
}

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)) with lengths
// counted in runes. Two empty strings are identical.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Accept applies the closed lower bound sim >= threshold.
func Accept(sim, threshold float64) bool {
	return sim >= threshold-thresholdEpsilon
}

// token is one whitespace-delimited word with edge punctuation trimmed.
// start and end are byte offsets of the trimmed word in the original text.
type token struct {
	norm       string
	start, end int
}

func tokenize(text string) []token {
	var out []token
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		j := i
		for j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			if unicode.IsSpace(r) {
				break
			}
			j += size
		}
		if start, end, ok := trimPunct(text, i, j); ok {
			out = append(out, token{norm: profile.Normalize(text[start:end]), start: start, end: end})
		}
		i = j
	}
	return out
}

func trimPunct(text string, start, end int) (int, int, bool) {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !profile.IsEdgePunct(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !profile.IsEdgePunct(r) {
			break
		}
		end -= size
	}
	return start, end, start < end
}

func joinNorm(tokens []token) string {
	if len(tokens) == 1 {
		return tokens[0].norm
	}
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.norm
	}
	return strings.Join(parts, " ")
}
