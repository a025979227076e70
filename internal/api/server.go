// Package api exposes the local control interface for the tracking agent.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/notionviews/agent/internal/config"
	"github.com/notionviews/agent/internal/metrics"
	"github.com/notionviews/agent/internal/monitor"
	"github.com/notionviews/agent/internal/pageid"
	"github.com/notionviews/agent/internal/tracker"
	"github.com/notionviews/agent/internal/tracking"
)

// Server wires HTTP handlers to the tracker and its collaborators.
type Server struct {
	router  chi.Router
	trk     *tracker.Tracker
	relay   tracking.Relay
	store   tracking.SettingsStore
	journal tracking.Journal
	scanner tracking.SnapshotFetcher
	mon     *monitor.Monitor
	idGen   tracking.IDGenerator
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	trk *tracker.Tracker,
	relay tracking.Relay,
	store tracking.SettingsStore,
	journal tracking.Journal,
	scanner tracking.SnapshotFetcher,
	mon *monitor.Monitor,
	idGen tracking.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		trk:     trk,
		relay:   relay,
		store:   store,
		journal: journal,
		scanner: scanner,
		mon:     mon,
		idGen:   idGen,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware(idGen))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
		r.Post("/register", s.register)
		r.Post("/check", s.check)
		r.Post("/scan", s.scan)
		r.Get("/status", s.status)
		r.Get("/views", s.recentViews)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type settingsResponse struct {
	APIEndpoint string `json:"api_endpoint"`
	APIKeySet   bool   `json:"api_key_set"`
	Enabled     bool   `json:"enabled"`
	DatabaseID  string `json:"database_id,omitempty"`
	LastTracked string `json:"last_tracked,omitempty"`
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	settings := s.trk.Settings()
	resp := settingsResponse{
		APIEndpoint: settings.APIEndpoint,
		APIKeySet:   settings.APIKey != "",
		Enabled:     settings.Enabled,
		DatabaseID:  settings.DatabaseID,
	}
	if !settings.LastTracked.IsZero() {
		resp.LastTracked = settings.LastTracked.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

type putSettingsRequest struct {
	APIEndpoint  string `json:"api_endpoint"`
	APIKey       string `json:"api_key"`
	Enabled      *bool  `json:"enabled"`
	DatabaseLink string `json:"database_link"`
}

// putSettings validates and persists the whole settings blob, then pushes
// it to the tracker. Nothing is saved when validation fails.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var req putSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	endpoint := strings.TrimSpace(req.APIEndpoint)
	apiKey := strings.TrimSpace(req.APIKey)
	if endpoint == "" || apiKey == "" {
		writeError(w, http.StatusBadRequest, "api_endpoint and api_key are required")
		return
	}
	endpoint = strings.TrimRight(endpoint, "/")

	var databaseID string
	if link := strings.TrimSpace(req.DatabaseLink); link != "" {
		id, ok := pageid.FromDatabaseLink(link)
		if !ok {
			writeError(w, http.StatusBadRequest, "could not extract a database id from database_link")
			return
		}
		databaseID = id
	}

	current := s.trk.Settings()
	next := tracking.Settings{
		APIEndpoint: endpoint,
		APIKey:      apiKey,
		Enabled:     current.Enabled,
		DatabaseID:  databaseID,
		LastTracked: current.LastTracked,
	}
	if req.Enabled != nil {
		next.Enabled = *req.Enabled
	}

	if err := s.store.Save(r.Context(), next); err != nil {
		writeError(w, http.StatusInternalServerError, "persist settings: "+err.Error())
		return
	}
	s.trk.UpdateSettings(next)

	writeJSON(w, http.StatusOK, settingsResponse{
		APIEndpoint: next.APIEndpoint,
		APIKeySet:   true,
		Enabled:     next.Enabled,
		DatabaseID:  next.DatabaseID,
	})
}

type registerRequest struct {
	APIEndpoint  string `json:"api_endpoint"`
	NotionToken  string `json:"notion_token"`
	DatabaseLink string `json:"database_link"`
}

// register exchanges a Notion integration token for an API key at the
// remote service and stores the resulting credentials.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	endpoint := strings.TrimRight(strings.TrimSpace(req.APIEndpoint), "/")
	token := strings.TrimSpace(req.NotionToken)
	if endpoint == "" || token == "" {
		writeError(w, http.StatusBadRequest, "api_endpoint and notion_token are required")
		return
	}

	var databaseID string
	if link := strings.TrimSpace(req.DatabaseLink); link != "" {
		id, ok := pageid.FromDatabaseLink(link)
		if !ok {
			writeError(w, http.StatusBadRequest, "could not extract a database id from database_link")
			return
		}
		databaseID = id
	}

	// Register against the requested endpoint before any credentials are
	// stored; a failure leaves the current settings untouched.
	s.relay.SetCredentials(endpoint, "")
	apiKey, err := s.relay.Register(r.Context(), token, databaseID)
	if err != nil {
		current := s.trk.Settings()
		s.relay.SetCredentials(current.APIEndpoint, current.APIKey)
		writeError(w, relayErrorStatus(err), "register: "+err.Error())
		return
	}

	current := s.trk.Settings()
	next := tracking.Settings{
		APIEndpoint: endpoint,
		APIKey:      apiKey,
		Enabled:     current.Enabled,
		DatabaseID:  databaseID,
		LastTracked: current.LastTracked,
	}
	if err := s.store.Save(r.Context(), next); err != nil {
		writeError(w, http.StatusInternalServerError, "persist settings: "+err.Error())
		return
	}
	s.trk.UpdateSettings(next)

	writeJSON(w, http.StatusOK, map[string]any{
		"api_key":     apiKey,
		"database_id": databaseID,
	})
}

// check performs an immediate connection test against the remote service,
// bypassing the monitor's poll interval.
func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	status := s.mon.Refresh(r.Context())
	writeJSON(w, http.StatusOK, status)
}

type scanRequest struct {
	URL string `json:"url"`
}

type scanResponse struct {
	Outcome      string `json:"outcome"`
	PageID       string `json:"page_id,omitempty"`
	UsedHeadless bool   `json:"used_headless"`
	StatusCode   int    `json:"status_code"`
}

// scan fetches a URL through the snapshot pipeline and runs a tracking
// check on the result, exactly as if the page had been visited.
func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	snap, err := s.scanner.Fetch(r.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, "fetch: "+err.Error())
		return
	}
	metrics.ObserveSnapshot("scan")

	outcome := s.trk.Check(r.Context(), snap, tracking.TriggerScan)
	resp := scanResponse{
		Outcome:      string(outcome),
		UsedHeadless: snap.UsedHeadless,
		StatusCode:   snap.StatusCode,
	}
	if id, ok := pageid.FromURL(snap.EffectiveURL()); ok {
		resp.PageID = id
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Enabled      bool           `json:"enabled"`
	TrackedPages int            `json:"tracked_pages"`
	LastTracked  string         `json:"last_tracked,omitempty"`
	Remote       monitor.Status `json:"remote"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	settings := s.trk.Settings()
	resp := statusResponse{
		Enabled:      settings.Enabled,
		TrackedPages: s.trk.TrackedCount(),
		Remote:       s.mon.Status(),
	}
	if !settings.LastTracked.IsZero() {
		resp.LastTracked = settings.LastTracked.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) recentViews(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	records, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch views: "+err.Error())
		return
	}
	if records == nil {
		records = []tracking.ViewRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"views": records})
}

func relayErrorStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func requestIDMiddleware(idGen tracking.IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID, err := idGen.NewID()
			if err != nil {
				reqID = "unknown"
			}
			ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
