package recognizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/profile"
)

var finnishPhone = profile.Pattern{
	Name:       "finnish_phone",
	Regex:      `\+358\d{7,9}`,
	EntityType: "PHONE_NUMBER",
	Score:      0.95,
	Group:      profile.GroupPhone,
}

func TestNewPattern_InvalidRegex(t *testing.T) {
	_, err := NewPattern("custom_regex", []profile.Pattern{{Name: "broken", Regex: "a(b", EntityType: "X", Score: 1}})
	require.Error(t, err)
	var ce *profile.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, profile.KindPattern, ce.Kind)
	assert.Equal(t, "broken", ce.Subject)
}

func TestPattern_FinnishPhone(t *testing.T) {
	r, err := NewPattern(profile.GroupPhone, []profile.Pattern{finnishPhone})
	require.NoError(t, err)

	got, err := r.Analyze(context.Background(), "Call me +358501231234")
	require.NoError(t, err)
	want := []entity.Candidate{{
		EntityType: "PHONE_NUMBER", Start: 8, End: 21, Score: 0.95,
		Source: entity.SourcePattern, Recognizer: profile.GroupPhone,
	}}
	if diff := cmp.Diff(want, got.Candidates); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, got.Suppressions)
}

func TestPattern_NoMatchAcrossPrefix(t *testing.T) {
	r, err := NewPattern(profile.GroupPhone, []profile.Pattern{finnishPhone})
	require.NoError(t, err)

	got, err := r.Analyze(context.Background(), "Call me +359012345678")
	require.NoError(t, err)
	assert.Empty(t, got.Candidates)
}

func TestPattern_LeftmostFirstNonOverlapping(t *testing.T) {
	r, err := NewPattern("t", []profile.Pattern{
		{Name: "aa", Regex: `aa`, EntityType: "A", Score: 0.5},
		{Name: "ab", Regex: `ab`, EntityType: "B", Score: 0.6},
	})
	require.NoError(t, err)

	got, err := r.Analyze(context.Background(), "aaab")
	require.NoError(t, err)
	// "aa" fires once at 0; the second "a" pair would overlap and is skipped.
	// The "ab" pattern overlaps it and is passed through unresolved.
	var spans [][3]any
	for _, c := range got.Candidates {
		spans = append(spans, [3]any{c.EntityType, c.Start, c.End})
	}
	assert.Equal(t, [][3]any{{"A", 0, 2}, {"B", 2, 4}}, spans)
}

func TestPattern_Invalidate(t *testing.T) {
	p := profile.New("t")
	r, err := NewPattern(profile.GroupIP, p.PatternsInGroup(profile.GroupIP))
	require.NoError(t, err)

	got, err := r.Analyze(context.Background(), "hosts 10.0.0.1 and 999.1.1.1")
	require.NoError(t, err)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, 6, got.Candidates[0].Start)
	assert.Equal(t, 14, got.Candidates[0].End)
}

func TestPattern_CancelledContext(t *testing.T) {
	r, err := NewPattern("t", []profile.Pattern{finnishPhone})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Analyze(ctx, "+358501231234")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("matti", "matti"))
	assert.InDelta(t, 0.8, Similarity("matti", "mattu"), 1e-12)
	// Lengths are counted in runes, not bytes.
	assert.InDelta(t, 0.8, Similarity("äiti", "äitiä"), 1e-12)
}

func TestFuzzyThresholdBoundary(t *testing.T) {
	sim := Similarity("example12345", "example321")
	assert.Less(t, sim, 0.95)
	assert.False(t, Accept(sim, 0.95))

	term := strings.Repeat("a", 19) + "b"
	unit := strings.Repeat("a", 20)
	sim = Similarity(unit, term)
	assert.True(t, Accept(sim, 0.95), "similarity exactly at the threshold is accepted")
	assert.False(t, Accept(sim, 0.951), "threshold - epsilon is rejected")
}

func listProfile(t *testing.T, grant, block []string) *profile.Profile {
	t.Helper()
	p := profile.New("t")
	for _, g := range grant {
		e, ok := profile.NewListEntry(g, profile.Grant)
		require.True(t, ok)
		p.GrantList = append(p.GrantList, e)
	}
	for _, b := range block {
		e, ok := profile.NewListEntry(b, profile.Block)
		require.True(t, ok)
		p.BlockList = append(p.BlockList, e)
	}
	return p
}

func TestList_GrantExactAndFuzzy(t *testing.T) {
	p := listProfile(t, []string{"Meikäläinen", "Virtanen"}, nil)
	p.FuzzyThreshold = 0.85
	r := NewList(profile.RecognizerGrantList, Grant, p)

	text := "Herra MEIKÄLÄINEN ja Virtanem."
	got, err := r.Analyze(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, got.Candidates, 2)

	first, second := got.Candidates[0], got.Candidates[1]
	assert.Equal(t, "MEIKÄLÄINEN", text[first.Start:first.End])
	assert.Equal(t, 1.0, first.Score)
	assert.Equal(t, "OTHER", first.EntityType)
	assert.Equal(t, entity.SourceList, first.Source)

	assert.Equal(t, "Virtanem", text[second.Start:second.End], "trailing punctuation is trimmed")
	assert.InDelta(t, 0.875, second.Score, 1e-12)
	assert.Empty(t, got.Suppressions)
}

func TestList_RejectsBelowThreshold(t *testing.T) {
	p := listProfile(t, []string{"example12345"}, nil)
	r := NewList(profile.RecognizerGrantList, Grant, p)

	got, err := r.Analyze(context.Background(), "id example321 here")
	require.NoError(t, err)
	assert.Empty(t, got.Candidates)
}

func TestList_MultiWordLongestFirst(t *testing.T) {
	p := listProfile(t, []string{"Matti", "Matti Meikäläinen"}, nil)
	r := NewList(profile.RecognizerGrantList, Grant, p)

	text := "Matti  Meikäläinen ja Matti"
	got, err := r.Analyze(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, got.Candidates, 2)
	assert.Equal(t, "Matti  Meikäläinen", text[got.Candidates[0].Start:got.Candidates[0].End])
	assert.Equal(t, "Matti", text[got.Candidates[1].Start:got.Candidates[1].End])
}

func TestList_BlockProducesOnlySuppressions(t *testing.T) {
	p := listProfile(t, nil, []string{"Helsinki"})
	r := NewList(profile.RecognizerBlockList, Block, p)

	text := "Asun (Helsinki) nyt"
	got, err := r.Analyze(context.Background(), text)
	require.NoError(t, err)
	assert.Empty(t, got.Candidates)
	require.Len(t, got.Suppressions, 1)
	s := got.Suppressions[0]
	assert.Equal(t, "Helsinki", text[s.Start:s.End])
	assert.Equal(t, entity.SourceList, r.Source())
}

func TestList_BlockMarksOverlappingTerms(t *testing.T) {
	p := listProfile(t, nil, []string{"a b", "b c d", "c"})
	r := NewList(profile.RecognizerBlockList, Block, p)

	got, err := r.Analyze(context.Background(), "a b c d")
	require.NoError(t, err)
	want := []entity.SuppressionMark{
		{Start: 0, End: 3}, // a b
		{Start: 2, End: 7}, // b c d
		{Start: 4, End: 5}, // c
	}
	if diff := cmp.Diff(want, got.Suppressions); diff != "" {
		t.Errorf("suppressions mismatch (-want +got):\n%s", diff)
	}
}

func TestList_GrantSkipsPastMatch(t *testing.T) {
	p := listProfile(t, []string{"a b", "b c d"}, nil)
	r := NewList(profile.RecognizerGrantList, Grant, p)

	text := "a b c d"
	got, err := r.Analyze(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, got.Candidates, 1, "grant candidates do not overlap")
	assert.Equal(t, "a b", text[got.Candidates[0].Start:got.Candidates[0].End])
}

func TestList_PunctuatedTerms(t *testing.T) {
	tests := []struct {
		term, text, want string
	}{
		{"St. Mary", "Visit St. Mary today", "St. Mary"},
		{"Oy Ab.", "Firma Oy Ab, Turku", "Oy Ab"},
		{"e.g.", "(e.g.) tämä", "e.g"},
		{"'Virtanen'", "Herra Virtanen.", "Virtanen"},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			p := listProfile(t, nil, []string{tt.term})
			got, err := NewList(profile.RecognizerBlockList, Block, p).Analyze(context.Background(), tt.text)
			require.NoError(t, err)
			require.Len(t, got.Suppressions, 1)
			s := got.Suppressions[0]
			assert.Equal(t, tt.want, tt.text[s.Start:s.End])
		})
	}
}

func TestList_PrefixMatch(t *testing.T) {
	p := listProfile(t, nil, []string{"Helsinki"})
	r := NewList(profile.RecognizerBlockList, Block, p)
	got, err := r.Analyze(context.Background(), "Muutin Helsinkiin")
	require.NoError(t, err)
	assert.Empty(t, got.Suppressions, "prefix matching is off by default")

	p.PrefixMatch = true
	r = NewList(profile.RecognizerBlockList, Block, p)
	got, err = r.Analyze(context.Background(), "Muutin Helsinkiin")
	require.NoError(t, err)
	require.Len(t, got.Suppressions, 1)
	assert.Equal(t, entity.SuppressionMark{Start: 7, End: 17}, got.Suppressions[0])
}

func TestList_EmptyListAndText(t *testing.T) {
	r := NewList("grantlist", Grant, profile.New("t"))
	got, err := r.Analyze(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.Empty(t, got.Candidates)

	p := listProfile(t, []string{"x"}, nil)
	got, err = NewList("grantlist", Grant, p).Analyze(context.Background(), "  ... ")
	require.NoError(t, err)
	assert.Empty(t, got.Candidates)
}

func TestTokenize_ByteOffsets(t *testing.T) {
	toks := tokenize(" «Äiti», sanoi\tHÄN. ")
	require.Len(t, toks, 3)
	assert.Equal(t, "äiti", toks[0].norm)
	assert.Equal(t, "sanoi", toks[1].norm)
	assert.Equal(t, "hän", toks[2].norm)
	text := " «Äiti», sanoi\tHÄN. "
	assert.Equal(t, "Äiti", text[toks[0].start:toks[0].end])
	assert.Equal(t, "HÄN", text[toks[2].start:toks[2].end])
}
