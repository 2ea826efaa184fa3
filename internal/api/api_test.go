package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text-anonymizer/internal/anonymizer"
	"text-anonymizer/internal/batch"
	"text-anonymizer/internal/config"
	"text-anonymizer/internal/metrics"
	"text-anonymizer/internal/profile"
)

func testConfig() *config.Config {
	return &config.Config{
		ConfigDir:      "config",
		DefaultProfile: profile.DefaultName,
		BindAddress:    "127.0.0.1",
		APIPort:        8000,
		MaxBodyBytes:   1 << 20,
		OllamaEndpoint: "http://localhost:11434",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *metrics.Metrics) {
	t.Helper()
	dir := t.TempDir()
	acme := filepath.Join(dir, "acme")
	require.NoError(t, os.MkdirAll(acme, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(acme, profile.GrantListFile), []byte("Virtanen\n"), 0o644))

	m := metrics.New()
	svc, err := anonymizer.NewService(profile.NewLoader(dir), anonymizer.NewRegistry(), anonymizer.ServiceOptions{
		Recognizers: []string{profile.GroupPhone, profile.GroupEmail},
		Metrics:     m,
	})
	require.NoError(t, err)
	return New(cfg, svc, batch.NewPool(2, m, nil), m, nil), m
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := do(t, s.Handler(), http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp struct {
		Status         string `json:"status"`
		DefaultProfile string `json:"defaultProfile"`
		Workers        int    `json:"workers"`
		External       struct {
			NER    bool `json:"ner"`
			Ollama bool `json:"ollama"`
		} `json:"external"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, profile.DefaultName, resp.DefaultProfile)
	assert.Equal(t, 2, resp.Workers)
	assert.False(t, resp.External.NER)
	assert.True(t, resp.External.Ollama)
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/status", "")
	id := rec.Header().Get(RequestIDHeader)
	_, err := ulid.ParseStrict(id)
	assert.NoError(t, err, "minted id %q", id)

	incoming := ulid.Make().String()
	rec = do(t, h, http.MethodGet, "/status", "", RequestIDHeader, incoming)
	assert.Equal(t, incoming, rec.Header().Get(RequestIDHeader))

	rec = do(t, h, http.MethodGet, "/status", "", RequestIDHeader, "not-a-ulid")
	assert.NotEqual(t, "not-a-ulid", rec.Header().Get(RequestIDHeader))
}

func TestAnonymize(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := do(t, s.Handler(), http.MethodPost, "/anonymize", `{"text":"Call me +358501231234"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AnonymizedText string           `json:"anonymized_txt"`
		Entities       []map[string]any `json:"entities"`
		Statistics     map[string]int   `json:"statistics"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Call me <PUHELIN>", resp.AnonymizedText)
	assert.Equal(t, map[string]int{"PHONE_NUMBER": 1}, resp.Statistics)
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "PHONE_NUMBER", resp.Entities[0]["entity_type"])
	assert.Equal(t, float64(8), resp.Entities[0]["start"])
	assert.Equal(t, float64(21), resp.Entities[0]["end"])
	assert.Equal(t, "pattern", resp.Entities[0]["source"])
	assert.NotContains(t, resp.Entities[0], "text", "substring only in verbose mode")
	assert.NotContains(t, rec.Body.String(), "358501231234")
}

func TestAnonymize_Verbose(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := do(t, s.Handler(), http.MethodPost, "/anonymize", `{"text":"Call me +358501231234","verbose":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp anonymizer.Result
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "+358501231234", resp.Entities[0].Text)
}

func TestAnonymize_ProfileAndRecognizers(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := do(t, s.Handler(), http.MethodPost, "/anonymize",
		`{"text":"Matti Virtanen, +358501231234","profile":"acme","recognizers":["grantlist"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp anonymizer.Result
	decodeBody(t, rec, &resp)
	assert.NotContains(t, resp.AnonymizedText, "Virtanen")
	assert.Contains(t, resp.AnonymizedText, "+358501231234", "phone recognizer not selected")
}

func TestAnonymize_EmptyTextPassesThrough(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := do(t, s.Handler(), http.MethodPost, "/anonymize", `{"text":"   "}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp anonymizer.Result
	decodeBody(t, rec, &resp)
	assert.Equal(t, "   ", resp.AnonymizedText)
	assert.Empty(t, resp.Entities)
}

func TestAnalyze(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := do(t, s.Handler(), http.MethodPost, "/analyze", `{"text":"mail x@y.fi or +358501231234"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp analyzeResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Entities, 2)
	assert.Equal(t, "EMAIL_ADDRESS", resp.Entities[0].EntityType)
	assert.Equal(t, "PHONE_NUMBER", resp.Entities[1].EntityType)
	assert.Empty(t, resp.Entities[0].Text)
	assert.Equal(t, map[string]int{"EMAIL_ADDRESS": 1, "PHONE_NUMBER": 1}, resp.Statistics)

	rec = do(t, s.Handler(), http.MethodPost, "/analyze", `{"text":"mail x@y.fi","verbose":true}`)
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "x@y.fi", resp.Entities[0].Text)
}

func TestBadRequests(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown recognizer", http.MethodPost, "/anonymize", `{"text":"x","recognizers":["telepathy"]}`, http.StatusBadRequest},
		{"unknown profile", http.MethodPost, "/analyze", `{"text":"x","profile":"nope"}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/anonymize", `{"text":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/anonymize", `{"txt":"x"}`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/anonymize", "", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			var resp map[string]string
			decodeBody(t, rec, &resp)
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 16
	s, _ := newTestServer(t, cfg)
	rec := do(t, s.Handler(), http.MethodPost, "/anonymize", `{"text":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAnonymizeBatch(t *testing.T) {
	s, m := newTestServer(t, testConfig())
	rec := do(t, s.Handler(), http.MethodPost, "/anonymize_batch",
		`{"texts":["a +358501231234","","c x@y.fi"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp batchResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "a <PUHELIN>", resp.Results[0].AnonymizedText)
	assert.Equal(t, 1, resp.Results[1].Index)
	assert.Equal(t, "", resp.Results[1].AnonymizedText)
	assert.Empty(t, resp.Results[1].Error)
	assert.Equal(t, "c <SÄHKÖPOSTI>", resp.Results[2].AnonymizedText)
	assert.Zero(t, resp.Failed)
	assert.Equal(t, map[string]int{"PHONE_NUMBER": 1, "EMAIL_ADDRESS": 1}, resp.Statistics)
	assert.Equal(t, int64(3), m.RowsProcessed.Load())
}

func TestAuth(t *testing.T) {
	cfg := testConfig()
	cfg.APIToken = "s3cret"
	s, m := newTestServer(t, cfg)
	h := s.Handler()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tt.header == "" {
				rec = do(t, h, http.MethodGet, "/status", "")
			} else {
				rec = do(t, h, http.MethodGet, "/status", "", "Authorization", tt.header)
			}
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, int64(3), m.RequestsAuth.Load())
	assert.Equal(t, int64(4), m.RequestsTotal.Load())
}

func TestProfilesAndRecognizers(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var profiles struct {
		Profiles []string `json:"profiles"`
		Default  string   `json:"default"`
	}
	decodeBody(t, rec, &profiles)
	assert.ElementsMatch(t, []string{profile.DefaultName, "acme"}, profiles.Profiles)
	assert.Equal(t, profile.DefaultName, profiles.Default)

	rec = do(t, h, http.MethodGet, "/recognizers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs struct {
		Recognizers []string `json:"recognizers"`
	}
	decodeBody(t, rec, &recs)
	assert.Contains(t, recs.Recognizers, profile.GroupPhone)
	assert.Contains(t, recs.Recognizers, profile.RecognizerBlockList)
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()
	do(t, h, http.MethodPost, "/anonymize", `{"text":"Call me +358501231234"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap metrics.Snapshot
	decodeBody(t, rec, &snap)
	assert.Equal(t, int64(2), snap.Requests.Total)
	assert.Equal(t, int64(1), snap.Texts.Analyzed)
	assert.Equal(t, int64(1), snap.Resolution.EntitiesByType["PHONE_NUMBER"])
}
