// Package api serves the anonymizer over HTTP.
//
// Endpoints:
//
//	GET  /status           - health, uptime, default profile
//	GET  /metrics          - metrics snapshot
//	GET  /profiles         - profiles available in the config directory
//	GET  /recognizers      - registered recognizer identifiers
//	POST /analyze          - confirmed entities of {"text": "..."}
//	POST /anonymize        - anonymized text of {"text": "..."}
//	POST /anonymize_batch  - anonymize {"texts": [...]}, one result per item
//
// Every POST accepts optional "profile", "recognizers" and "verbose" fields.
// An unknown profile or recognizer is a 400.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"text-anonymizer/internal/anonymizer"
	"text-anonymizer/internal/batch"
	"text-anonymizer/internal/config"
	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/metrics"
	"text-anonymizer/internal/profile"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxBatchItems bounds one /anonymize_batch request.
const maxBatchItems = 10000

// defaultMaxBody applies when the configured body limit is unset.
const defaultMaxBody = 1 << 20

// Server is the REST API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	service   *anonymizer.Service
	pool      *batch.Pool
	token     string // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// New creates an API server. m and log may be nil.
func New(cfg *config.Config, svc *anonymizer.Service, pool *batch.Pool, m *metrics.Metrics, log *logger.Logger) *Server {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	if pool == nil {
		pool = batch.NewPool(cfg.Workers, m, log)
	}
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		service:   svc,
		pool:      pool,
		token:     cfg.APIToken,
		metrics:   m,
		log:       log,
	}
	if s.token != "" {
		s.log.Info("startup", "Bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)

	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/profiles", s.handleProfiles)
	r.Get("/recognizers", s.handleRecognizers)

	r.Group(func(r chi.Router) {
		r.Use(s.limitBody)
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/anonymize", s.handleAnonymize)
		r.Post("/anonymize_batch", s.handleAnonymizeBatch)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

type ctxKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// requestID reuses a well-formed incoming id or mints a ULID.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := ulid.ParseStrict(id); err != nil {
			id = ulid.Make().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.RequestsTotal.Add(1)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugf("request", "%s %s %s status=%d bytes=%d duration=%s",
			RequestID(r.Context()), r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start).Round(time.Microsecond))
	})
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.metrics.RequestsAuth.Add(1)
			s.log.Warnf("auth", "Unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := s.cfg.MaxBodyBytes
		if limit <= 0 {
			limit = defaultMaxBody
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// textRequest is the body of /analyze and /anonymize.
type textRequest struct {
	Text        string   `json:"text"`
	Profile     string   `json:"profile,omitempty"`
	Recognizers []string `json:"recognizers,omitempty"`
	Verbose     bool     `json:"verbose,omitempty"`
}

// batchRequest is the body of /anonymize_batch.
type batchRequest struct {
	Texts       []string `json:"texts"`
	Profile     string   `json:"profile,omitempty"`
	Recognizers []string `json:"recognizers,omitempty"`
	Verbose     bool     `json:"verbose,omitempty"`
}

type analyzeResponse struct {
	Entities   []entity.ConfirmedEntity `json:"entities"`
	Statistics map[string]int           `json:"statistics"`
}

type batchItem struct {
	Index int `json:"index"`
	anonymizer.Result
	Error string `json:"error,omitempty"`
}

type batchResponse struct {
	Results    []batchItem    `json:"results"`
	Statistics map[string]int `json:"statistics"`
	Failed     int            `json:"failed"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status         string `json:"status"`
		Uptime         string `json:"uptime"`
		DefaultProfile string `json:"defaultProfile"`
		Workers        int    `json:"workers"`
		External       struct {
			NER    bool `json:"ner"`
			Ollama bool `json:"ollama"`
		} `json:"external"`
	}

	resp := response{
		Status:         "running",
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		DefaultProfile: s.service.DefaultProfile(),
		Workers:        s.pool.Workers(),
	}
	resp.External.NER = s.cfg.NERURL != ""
	resp.External.Ollama = s.cfg.OllamaEndpoint != ""

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	names, err := s.service.Profiles()
	if err != nil {
		s.log.Errorf("profiles", "list profiles: %v", err)
		s.writeError(w, http.StatusInternalServerError, "cannot list profiles")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"profiles": names, "default": s.service.DefaultProfile()})
}

func (s *Server) handleRecognizers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"recognizers": s.service.Recognizers()})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	engine, ok := s.engine(w, req.Profile, req.Recognizers)
	if !ok {
		return
	}
	entities, err := engine.Analyze(r.Context(), req.Text)
	if err != nil && !anonymizer.IsUnitError(err) {
		s.analysisFailed(w, r, err)
		return
	}
	if req.Verbose {
		for i := range entities {
			entities[i].Text = req.Text[entities[i].Start:entities[i].End]
		}
	}
	stats := make(map[string]int)
	for _, e := range entities {
		stats[e.EntityType]++
	}
	s.writeJSON(w, http.StatusOK, analyzeResponse{Entities: entities, Statistics: stats})
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	engine, ok := s.engine(w, req.Profile, req.Recognizers)
	if !ok {
		return
	}
	res, err := engine.Process(r.Context(), req.Text, req.Verbose)
	if err != nil && !anonymizer.IsUnitError(err) {
		s.analysisFailed(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnonymizeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Texts) > maxBatchItems {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d texts per batch", maxBatchItems))
		return
	}
	engine, ok := s.engine(w, req.Profile, req.Recognizers)
	if !ok {
		return
	}

	items := s.pool.Run(r.Context(), engine, req.Texts, req.Verbose)
	if err := r.Context().Err(); err != nil {
		s.log.Debugf("batch", "%s cancelled: %v", RequestID(r.Context()), err)
		return
	}
	resp := batchResponse{Results: make([]batchItem, len(items)), Statistics: batch.Statistics(items)}
	for i, it := range items {
		resp.Results[i] = batchItem{Index: it.Index, Result: it.Result}
		if it.Failed() {
			resp.Results[i].Error = "analysis failed"
			resp.Failed++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// engine resolves the requested engine, writing a 400 for configuration
// errors.
func (s *Server) engine(w http.ResponseWriter, name string, ids []string) (*anonymizer.Engine, bool) {
	e, err := s.service.Engine(name, ids)
	if err == nil {
		return e, true
	}
	var ce *profile.ConfigError
	if errors.As(err, &ce) {
		s.writeError(w, http.StatusBadRequest, ce.Error())
		return nil, false
	}
	s.log.Errorf("engine", "build engine: %v", err)
	s.writeError(w, http.StatusInternalServerError, "cannot build engine")
	return nil, false
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

// analysisFailed reports a unit failure without echoing the text.
func (s *Server) analysisFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.log.Errorf("analyze", "%s analysis failed: %v", RequestID(r.Context()), err)
	s.writeError(w, http.StatusInternalServerError, "analysis failed")
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encode", "JSON encode error: %v", err)
	}
}

// ListenAndServe serves the API until ctx is cancelled, then shuts down
// gracefully. With EnableH2C set, cleartext HTTP/2 is accepted alongside
// HTTP/1.1.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Addr()
	handler := s.Handler()
	if s.cfg.EnableH2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("startup", "Listening on %s (h2c=%v)", addr, s.cfg.EnableH2C)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("shutdown", "Shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
