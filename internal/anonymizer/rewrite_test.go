package anonymizer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/profile"
)

func TestRewrite(t *testing.T) {
	p := profile.New("test")
	text := "Soita Äidille +358501231234 tai mail a@b.fi"
	entities := []entity.ConfirmedEntity{
		conf("PERSON", 6, 14, 0.9, entity.SourceExternal),
		conf("PHONE_NUMBER", 15, 28, 0.95, entity.SourcePattern),
		conf("EMAIL_ADDRESS", 38, 44, 1.0, entity.SourcePattern),
	}

	res, err := Rewrite(text, entities, p.Label, false)
	require.NoError(t, err)
	assert.Equal(t, "Soita <NIMI> <PUHELIN> tai mail <SÄHKÖPOSTI>", res.AnonymizedText)
	for _, e := range res.Entities {
		assert.Empty(t, e.Text, "original substrings stay out of non-verbose results")
	}
	assert.Equal(t, map[string]int{"PERSON": 1, "PHONE_NUMBER": 1, "EMAIL_ADDRESS": 1}, res.Statistics)
}

func TestRewrite_Verbose(t *testing.T) {
	text := "id 010203-123A end"
	res, err := Rewrite(text, []entity.ConfirmedEntity{
		conf("FI_SSN", 3, 14, 1.0, entity.SourcePattern),
	}, func(string) string { return "[X]" }, true)
	require.NoError(t, err)

	assert.Equal(t, "id [X] end", res.AnonymizedText)
	want := []entity.ConfirmedEntity{{
		EntityType: "FI_SSN", Start: 3, End: 14, Score: 1.0, Source: entity.SourcePattern, Text: "010203-123A",
	}}
	if diff := cmp.Diff(want, res.Entities); diff != "" {
		t.Errorf("entities mismatch (-want +got):\n%s", diff)
	}
}

func TestRewrite_NoEntities(t *testing.T) {
	res, err := Rewrite("nothing here", nil, profile.New("t").Label, false)
	require.NoError(t, err)
	assert.Equal(t, "nothing here", res.AnonymizedText)
	assert.Empty(t, res.Entities)
	assert.Empty(t, res.Statistics)
}

func TestRewrite_InvalidEntities(t *testing.T) {
	text := "0123456789"
	tests := []struct {
		name     string
		entities []entity.ConfirmedEntity
	}{
		{"overlapping", []entity.ConfirmedEntity{conf("A", 0, 5, 1, entity.SourcePattern), conf("A", 4, 8, 1, entity.SourcePattern)}},
		{"unsorted", []entity.ConfirmedEntity{conf("A", 5, 8, 1, entity.SourcePattern), conf("A", 0, 2, 1, entity.SourcePattern)}},
		{"out of bounds", []entity.ConfirmedEntity{conf("A", 5, 11, 1, entity.SourcePattern)}},
		{"empty span", []entity.ConfirmedEntity{conf("A", 3, 3, 1, entity.SourcePattern)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Rewrite(text, tt.entities, func(string) string { return "X" }, false)
			assert.ErrorIs(t, err, ErrInvalidEntities)
			assert.Equal(t, text, res.AnonymizedText)
			assert.Empty(t, res.Entities)
		})
	}
}

func TestCombineStatistics(t *testing.T) {
	got := CombineStatistics(
		map[string]int{"PERSON": 2, "ADDRESS": 1},
		nil,
		map[string]int{"PERSON": 1, "FI_SSN": 3},
	)
	assert.Equal(t, map[string]int{"PERSON": 3, "ADDRESS": 1, "FI_SSN": 3}, got)
	assert.Equal(t, []string{"ADDRESS", "FI_SSN", "PERSON"}, StatisticsKeys(got))
}
