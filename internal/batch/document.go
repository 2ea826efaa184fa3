package batch

import (
	"context"
	"strings"
)

// segment is either a paragraph to anonymize or separator text copied as is.
type segment struct {
	text string
	unit bool
}

// DocumentReport summarizes one plain-text document run.
type DocumentReport struct {
	Paragraphs int
	Errors     []RowError
	Statistics map[string]int
	Details    map[string][]string
}

// AnonymizeDocument anonymizes text paragraph by paragraph. Paragraphs are
// runs of non-blank lines; each is an independent unit. Blank lines and the
// line breaks between paragraphs are preserved byte for byte.
func AnonymizeDocument(ctx context.Context, pool *Pool, proc Processor, text string, verbose bool) (string, DocumentReport, error) {
	segs := splitParagraphs(text)
	var texts []string
	var at []int
	for i, s := range segs {
		if s.unit {
			texts = append(texts, s.text)
			at = append(at, i)
		}
	}

	report := DocumentReport{Paragraphs: len(texts)}
	items := pool.Run(ctx, proc, texts, verbose)
	if err := ctx.Err(); err != nil {
		return "", report, err
	}
	for k, it := range items {
		if it.Failed() {
			report.Errors = append(report.Errors, RowError{Row: k + 1, Column: -1, Err: it.Err})
			continue
		}
		segs[at[k]].text = it.Result.AnonymizedText
	}
	report.Statistics = Statistics(items)
	report.Details = Details(items)

	var b strings.Builder
	b.Grow(len(text))
	for _, s := range segs {
		b.WriteString(s.text)
	}
	return b.String(), report, nil
}

// splitParagraphs cuts text into paragraph units and the separators between
// them. Concatenating every segment yields text again.
func splitParagraphs(text string) []segment {
	var segs []segment
	var para, sep strings.Builder

	flushPara := func() {
		if para.Len() > 0 {
			segs = append(segs, segment{text: para.String(), unit: true})
			para.Reset()
		}
	}
	flushSep := func() {
		if sep.Len() > 0 {
			segs = append(segs, segment{text: sep.String()})
			sep.Reset()
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		body := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(body) == "" {
			flushPara()
			sep.WriteString(line)
			continue
		}
		if para.Len() == 0 {
			flushSep()
		} else {
			para.WriteString(sep.String())
			sep.Reset()
		}
		para.WriteString(body)
		sep.WriteString(line[len(body):])
	}
	flushPara()
	flushSep()
	return segs
}
