package anonymizer

import (
	"fmt"
	"strings"

	"text-anonymizer/internal/entity"
)

// Result is the privacy-safe outcome of anonymizing one text unit.
type Result struct {
	AnonymizedText string                   `json:"anonymized_txt"`
	Entities       []entity.ConfirmedEntity `json:"entities"`
	// Statistics counts confirmed entities per entity type.
	Statistics map[string]int `json:"statistics"`
}

// Rewrite replaces every confirmed span of text with label(entity type) in a
// single left-to-right pass over the original offsets. entities must be
// sorted by start, non-overlapping and within text.
//
// The returned entities carry the matched substring only when verbose is set.
func Rewrite(text string, entities []entity.ConfirmedEntity, label func(entityType string) string, verbose bool) (Result, error) {
	if err := checkEntities(text, entities); err != nil {
		return Result{AnonymizedText: text, Entities: []entity.ConfirmedEntity{}, Statistics: map[string]int{}}, err
	}

	var b strings.Builder
	b.Grow(len(text))
	out := make([]entity.ConfirmedEntity, len(entities))
	stats := make(map[string]int)

	pos := 0
	for i, e := range entities {
		b.WriteString(text[pos:e.Start])
		b.WriteString(label(e.EntityType))
		pos = e.End

		out[i] = e
		out[i].Text = ""
		if verbose {
			out[i].Text = text[e.Start:e.End]
		}
		stats[e.EntityType]++
	}
	b.WriteString(text[pos:])

	return Result{AnonymizedText: b.String(), Entities: out, Statistics: stats}, nil
}

func checkEntities(text string, entities []entity.ConfirmedEntity) error {
	prevEnd := 0
	for i, e := range entities {
		if e.Start < prevEnd || e.Start >= e.End || e.End > len(text) {
			return fmt.Errorf("%w: entity %d [%d,%d) after offset %d in text of length %d",
				ErrInvalidEntities, i, e.Start, e.End, prevEnd, len(text))
		}
		prevEnd = e.End
	}
	return nil
}
