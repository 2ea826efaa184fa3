package anonymizer

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/profile"
)

// Policy holds the resolution knobs taken from a profile.
type Policy struct {
	// ScoreThreshold drops candidates scoring below it before resolution.
	ScoreThreshold float64
	// Priority orders sources for tie-breaks, highest first.
	Priority []entity.Source
	Coalesce profile.Coalesce
}

// PolicyFor extracts the resolution policy of p.
func PolicyFor(p *profile.Profile) Policy {
	return Policy{
		ScoreThreshold: p.ScoreThreshold,
		Priority:       p.SourcePriority,
		Coalesce:       p.Coalesce,
	}
}

// MergeStats counts what each resolution step removed.
type MergeStats struct {
	BelowThreshold   int
	Suppressed       int
	OverlapDiscarded int
	Coalesced        int
}

// Merge turns the candidates and suppression marks of one text unit into a
// sorted, non-overlapping list of confirmed entities.
//
//  1. Candidates below the score threshold are dropped.
//  2. Any candidate intersecting a suppression mark is dropped, whatever its
//     score.
//  3. The rest are sorted by start ascending, then score descending, length
//     descending, source priority, entity type and end.
//  4. A sweep keeps, of each overlapping pair, the higher-ranked candidate
//     (score, length, source priority, start, entity type). The loser is
//     discarded whole; its non-overlapping remainder is not kept.
//  5. Optionally, same-type neighbours separated only by a short run of
//     non-alphanumeric runes are merged.
//
// text is only read by step 5. The output is identical for any permutation
// of the inputs.
func Merge(text string, candidates []entity.Candidate, marks []entity.SuppressionMark, policy Policy) ([]entity.ConfirmedEntity, MergeStats) {
	var stats MergeStats
	rank := priorityRank(policy.Priority)

	live := make([]entity.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score < policy.ScoreThreshold {
			stats.BelowThreshold++
			continue
		}
		if suppressed(c, marks) {
			stats.Suppressed++
			continue
		}
		live = append(live, c)
	}

	sort.Slice(live, func(i, j int) bool { return sortsBefore(live[i], live[j], rank) })

	kept := make([]entity.Candidate, 0, len(live))
	for _, c := range live {
		n := len(kept)
		if n == 0 || !entity.Overlaps(kept[n-1].Start, kept[n-1].End, c.Start, c.End) {
			kept = append(kept, c)
			continue
		}
		stats.OverlapDiscarded++
		if outranks(c, kept[n-1], rank) {
			kept[n-1] = c
		}
	}

	if policy.Coalesce.Enabled {
		kept, stats.Coalesced = coalesce(text, kept, policy.Coalesce.MaxGap)
	}

	out := make([]entity.ConfirmedEntity, len(kept))
	for i, c := range kept {
		out[i] = entity.Confirm(c)
	}
	return out, stats
}

// priorityRank maps each source to its position in order. Sources missing
// from order rank after all listed ones.
func priorityRank(order []entity.Source) func(entity.Source) int {
	if len(order) == 0 {
		order = entity.DefaultPriority
	}
	ranks := make(map[entity.Source]int, len(order))
	for i, s := range order {
		if _, dup := ranks[s]; !dup {
			ranks[s] = i
		}
	}
	return func(s entity.Source) int {
		if r, ok := ranks[s]; ok {
			return r
		}
		return len(order) + int(s)
	}
}

func suppressed(c entity.Candidate, marks []entity.SuppressionMark) bool {
	for _, m := range marks {
		if entity.Overlaps(c.Start, c.End, m.Start, m.End) {
			return true
		}
	}
	return false
}

// sortsBefore is the total sweep order.
func sortsBefore(a, b entity.Candidate, rank func(entity.Source) int) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Len() != b.Len() {
		return a.Len() > b.Len()
	}
	if ra, rb := rank(a.Source), rank(b.Source); ra != rb {
		return ra < rb
	}
	if a.EntityType != b.EntityType {
		return a.EntityType < b.EntityType
	}
	if a.End != b.End {
		return a.End < b.End
	}
	return a.Recognizer < b.Recognizer
}

// outranks decides an overlap between challenger c and the kept candidate k.
func outranks(c, k entity.Candidate, rank func(entity.Source) int) bool {
	if c.Score != k.Score {
		return c.Score > k.Score
	}
	if c.Len() != k.Len() {
		return c.Len() > k.Len()
	}
	if rc, rk := rank(c.Source), rank(k.Source); rc != rk {
		return rc < rk
	}
	if c.Start != k.Start {
		return c.Start < k.Start
	}
	if c.EntityType != k.EntityType {
		return c.EntityType < k.EntityType
	}
	if c.End != k.End {
		return c.End < k.End
	}
	return c.Recognizer < k.Recognizer
}

// coalesce merges same-type neighbours in a sorted, non-overlapping list.
func coalesce(text string, kept []entity.Candidate, maxGap int) ([]entity.Candidate, int) {
	if len(kept) < 2 {
		return kept, 0
	}
	merged := 0
	out := kept[:1]
	for _, c := range kept[1:] {
		last := &out[len(out)-1]
		if last.EntityType == c.EntityType && bridgeable(text, last.End, c.Start, maxGap) {
			last.End = c.End
			if c.Score > last.Score {
				last.Score = c.Score
				last.Source = c.Source
			}
			merged++
			continue
		}
		out = append(out, c)
	}
	return out, merged
}

// bridgeable reports whether text[from:to] holds at most maxGap runes, none
// of them letters or digits.
func bridgeable(text string, from, to, maxGap int) bool {
	if from > to || to > len(text) {
		return false
	}
	gap := text[from:to]
	if utf8.RuneCountInString(gap) > maxGap {
		return false
	}
	return strings.IndexFunc(gap, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) < 0
}
