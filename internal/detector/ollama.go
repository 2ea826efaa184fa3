package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"text-anonymizer/internal/entity"
)

// OllamaName is the registry identifier of the Ollama adapter.
const OllamaName = "ollama"

// Defaults for OllamaOptions.
const (
	DefaultOllamaThreshold = 0.8
	DefaultOllamaTimeout   = 30 * time.Second
)

// ollamaTypes maps the model's lowercase detection types to entity types.
var ollamaTypes = map[string]string{
	"name":      "PERSON",
	"person":    "PERSON",
	"address":   "ADDRESS",
	"location":  "LOCATION",
	"email":     "EMAIL_ADDRESS",
	"phone":     "PHONE_NUMBER",
	"ssn":       "FI_SSN",
	"ipaddress": "IP_ADDRESS",
	"iban":      "IBAN_CODE",
	"company":   "ORGANIZATION",
}

// OllamaOptions configures the Ollama client.
type OllamaOptions struct {
	// Endpoint is the Ollama base URL, e.g. "http://localhost:11434".
	Endpoint string
	Model    string
	// Threshold drops detections with lower confidence.
	Threshold float64
	Timeout   time.Duration
	Client    *http.Client
}

// Ollama prompts a local language model for personal data and locates each
// reported value in the text.
type Ollama struct {
	url       string
	model     string
	threshold float64
	http      *http.Client
}

// NewOllama creates an Ollama client. Zero option fields take their defaults.
func NewOllama(opts OllamaOptions) *Ollama {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultOllamaThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOllamaTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	return &Ollama{
		url:       strings.TrimRight(opts.Endpoint, "/") + "/api/generate",
		model:     opts.Model,
		threshold: opts.Threshold,
		http:      opts.Client,
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

type ollamaDetection struct {
	Original   string  `json:"original"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Name returns OllamaName.
func (o *Ollama) Name() string { return OllamaName }

// CacheTag fingerprints the options that shape the findings.
func (o *Ollama) CacheTag() string {
	return fmt.Sprintf("url=%s;model=%s;threshold=%g", o.url, o.model, o.threshold)
}

// Source reports entity.SourceExternal.
func (o *Ollama) Source() entity.Source { return entity.SourceExternal }

// Analyze asks the model for detections and emits one candidate per
// non-overlapping occurrence of each reported value.
func (o *Ollama) Analyze(ctx context.Context, text string) (entity.Findings, error) {
	detections, err := o.query(ctx, text)
	if err != nil {
		return entity.Findings{}, err
	}

	var out entity.Findings
	for _, d := range detections {
		if d.Original == "" || d.Confidence < o.threshold {
			continue
		}
		entityType := mapOllamaType(d.Type)
		score := min(d.Confidence, 1)
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], d.Original)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(d.Original)
			out.Candidates = append(out.Candidates, entity.Candidate{
				EntityType: entityType,
				Start:      start,
				End:        end,
				Score:      score,
				Source:     entity.SourceExternal,
				Recognizer: OllamaName,
			})
			from = end
		}
	}
	return out, nil
}

func mapOllamaType(t string) string {
	if mapped, ok := ollamaTypes[strings.ToLower(strings.TrimSpace(t))]; ok {
		return mapped
	}
	return "OTHER"
}

func (o *Ollama) query(ctx context.Context, text string) ([]ollamaDetection, error) {
	prompt := fmt.Sprintf(`Analyze the following text for personal data.
Return ONLY a JSON array of detections. Each item must have:
- "original": the exact text found
- "type": one of: name, address, location, email, phone, ssn, ipAddress, iban, company
- "confidence": float 0.0-1.0

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"original":"Matti Meikäläinen","type":"name","confidence":0.95}]`,
		text)

	reqBody, err := json.Marshal(ollamaRequest{Model: o.model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ollama: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req) // #nosec G704 -- URL from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("ollama: read: %w", err)
	}
	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("ollama: response parse error: %w", err)
	}

	// The model wraps the array in free text more often than not.
	raw := strings.TrimSpace(ollamaResp.Response)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("ollama: no JSON array in response")
	}

	var detections []ollamaDetection
	if err := json.Unmarshal([]byte(raw[start:end+1]), &detections); err != nil {
		return nil, fmt.Errorf("ollama: detection parse error: %w", err)
	}
	return detections, nil
}
