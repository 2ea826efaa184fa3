// Package detector adapts external statistical detectors to the recognizer
// contract: a named-entity sidecar, a local Ollama model, and a persistent
// cache that can front either of them.
//
// Adapters are synchronous. An unreachable or misbehaving detector returns an
// error; the engine logs it and continues with the other recognizers.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"text-anonymizer/internal/entity"
)

// NERName is the registry identifier of the NER sidecar adapter.
const NERName = "ner"

// Defaults for NEROptions.
const (
	DefaultNERScore   = 0.9
	DefaultNERTimeout = 10 * time.Second
)

// DefaultNEREntities are the entity types kept when NEROptions.Entities is empty.
var DefaultNEREntities = []string{"PERSON", "LOCATION"}

// nerAliases maps common model label sets onto entity types.
var nerAliases = map[string]string{
	"PER":    "PERSON",
	"PERSON": "PERSON",
	"LOC":    "LOCATION",
	"GPE":    "LOCATION",
	"ORG":    "ORGANIZATION",
}

// NEROptions configures the NER sidecar client.
type NEROptions struct {
	// URL is the sidecar base URL, e.g. "http://localhost:8001".
	URL string
	// Entities is the allow-list of entity types to report.
	Entities []string
	// Score is assigned to spans the sidecar reports without one.
	Score float64
	// RuneOffsets says the sidecar reports code-point offsets (spaCy does);
	// they are converted to byte offsets.
	RuneOffsets bool
	Timeout     time.Duration
	Client      *http.Client
}

// NER calls a named-entity recognition sidecar over HTTP:
//
//	POST {url}/classify {"text": "..."} → {"spans": [{"start", "end", "label", "score"?}]}
type NER struct {
	url         string
	entities    map[string]struct{}
	score       float64
	runeOffsets bool
	http        *http.Client
}

// NewNER creates a NER client. Zero option fields take their defaults.
func NewNER(opts NEROptions) *NER {
	if opts.Score <= 0 || opts.Score > 1 {
		opts.Score = DefaultNERScore
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultNERTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if len(opts.Entities) == 0 {
		opts.Entities = DefaultNEREntities
	}
	entities := make(map[string]struct{}, len(opts.Entities))
	for _, e := range opts.Entities {
		entities[strings.ToUpper(strings.TrimSpace(e))] = struct{}{}
	}
	return &NER{
		url:         strings.TrimRight(opts.URL, "/") + "/classify",
		entities:    entities,
		score:       opts.Score,
		runeOffsets: opts.RuneOffsets,
		http:        opts.Client,
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Spans []nerSpan `json:"spans"`
}

type nerSpan struct {
	Start int      `json:"start"`
	End   int      `json:"end"`
	Label string   `json:"label"`
	Score *float64 `json:"score,omitempty"`
}

// Name returns NERName.
func (n *NER) Name() string { return NERName }

// CacheTag fingerprints the options that shape the findings.
func (n *NER) CacheTag() string {
	entities := make([]string, 0, len(n.entities))
	for e := range n.entities {
		entities = append(entities, e)
	}
	sort.Strings(entities)
	return fmt.Sprintf("url=%s;entities=%s;score=%g;runes=%t",
		n.url, strings.Join(entities, ","), n.score, n.runeOffsets)
}

// Source reports entity.SourceExternal.
func (n *NER) Source() entity.Source { return entity.SourceExternal }

// Analyze sends text to the sidecar and converts its spans to candidates.
// Spans with unsupported labels or out-of-range offsets are dropped.
func (n *NER) Analyze(ctx context.Context, text string) (entity.Findings, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return entity.Findings{}, fmt.Errorf("ner: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return entity.Findings{}, fmt.Errorf("ner: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return entity.Findings{}, fmt.Errorf("ner: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return entity.Findings{}, fmt.Errorf("ner: unexpected status %d", resp.StatusCode)
	}

	var result classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return entity.Findings{}, fmt.Errorf("ner: decode: %w", err)
	}

	var offsets []int
	if n.runeOffsets {
		offsets = runeToByte(text)
	}

	var out entity.Findings
	for _, s := range result.Spans {
		entityType, ok := n.entityType(s.Label)
		if !ok {
			continue
		}
		start, end := s.Start, s.End
		if offsets != nil {
			if start < 0 || end >= len(offsets) || start > end {
				continue
			}
			start, end = offsets[start], offsets[end]
		}
		score := n.score
		if s.Score != nil && *s.Score >= 0 && *s.Score <= 1 {
			score = *s.Score
		}
		out.Candidates = append(out.Candidates, entity.Candidate{
			EntityType: entityType,
			Start:      start,
			End:        end,
			Score:      score,
			Source:     entity.SourceExternal,
			Recognizer: NERName,
		})
	}
	return out, nil
}

func (n *NER) entityType(label string) (string, bool) {
	l := strings.ToUpper(strings.TrimSpace(label))
	if alias, ok := nerAliases[l]; ok {
		l = alias
	}
	_, ok := n.entities[l]
	return l, ok
}

// maxResponseBytes caps detector response bodies.
const maxResponseBytes = 10 << 20

// runeToByte returns the byte offset of every rune index in text, plus
// len(text) for the index one past the last rune.
func runeToByte(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}
