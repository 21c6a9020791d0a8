package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/creatorloop/internal/logging"
	"github.com/fentz26/creatorloop/internal/models"
	"github.com/fentz26/creatorloop/internal/requestctx"
	"github.com/fentz26/creatorloop/internal/store"
)

// Version is reported by the health endpoint.
var Version = "dev"

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Server provides the HTTP API for creatorloop.
type Server struct {
	service *Service
	store   *store.Store
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, st *store.Store, addr string) *Server {
	return &Server{
		service: service,
		store:   st,
		addr:    addr,
	}
}

// Handler returns the routed handler wrapped with request-id middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Story endpoints
	mux.HandleFunc("/stories", s.handleStories)
	mux.HandleFunc("/stories/", s.handleStoryBySlug)

	// Run endpoints
	mux.HandleFunc("/runs/", s.handleRunByID)

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	return withRequestID(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logging.L().Info("starting creatorloop daemon", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(RequestIDHeader); id != "" {
			ctx = requestctx.WithRequestID(ctx, id)
		}
		ctx, id := requestctx.EnsureRequestID(ctx)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		health.OK = false
		health.DB = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, health)
}

// handleStories handles GET /stories
func (s *Server) handleStories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	autorun := r.URL.Query().Get("autorun") == "true"
	stories, err := s.service.ListSignals(r.Context(), autorun)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stories)
}

// handleStoryBySlug handles /stories/{slug}/*
func (s *Server) handleStoryBySlug(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/stories/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "story slug required", http.StatusBadRequest)
		return
	}

	slug := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "signals" && r.Method == http.MethodPut:
		s.putSignals(w, r, slug)
	case action == "signals" && r.Method == http.MethodGet:
		s.getSignals(w, r, slug)
	case action == "decide" && r.Method == http.MethodPost:
		s.decide(w, r, slug)
	case action == "runs" && r.Method == http.MethodGet:
		s.listRuns(w, r, slug)
	case action == "runs" && r.Method == http.MethodPost:
		s.createRun(w, r, slug)
	case action == "records" && r.Method == http.MethodGet:
		s.listRecords(w, r, slug)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleRunByID handles /runs/{id}/*
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/runs/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "run id required", http.StatusBadRequest)
		return
	}

	runID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getRun(w, r, runID)
	case action == "start" && r.Method == http.MethodPost:
		s.startRun(w, r, runID)
	case action == "outcome" && r.Method == http.MethodPost:
		s.closeRun(w, r, runID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- Story Handlers ---

func (s *Server) putSignals(w http.ResponseWriter, r *http.Request, slug string) {
	var req models.StorySignals
	if !decodeBody(w, r, &req) {
		return
	}
	saved, err := s.service.PutSignals(r.Context(), slug, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) getSignals(w http.ResponseWriter, r *http.Request, slug string) {
	signals, err := s.service.GetSignals(r.Context(), slug)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signals)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, slug string) {
	var req DecideRequest
	// an empty body decides with defaults
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     "invalid json",
			RequestID: requestctx.RequestIDFromContext(r.Context()),
		})
		return
	}
	resp, err := s.service.Decide(r.Context(), slug, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request, slug string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.service.ListRuns(r.Context(), slug, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request, slug string) {
	var req CreateRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	run, err := s.service.CreateRun(r.Context(), slug, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request, slug string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.service.ListDecisionRecords(r.Context(), slug, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Run Handlers ---

func (s *Server) getRun(w http.ResponseWriter, r *http.Request, runID string) {
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if run == nil {
		s.writeError(w, r, ErrRunNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request, runID string) {
	run, err := s.service.StartRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) closeRun(w http.ResponseWriter, r *http.Request, runID string) {
	var req CloseRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	run, err := s.service.CloseRun(r.Context(), runID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// --- Helpers ---

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     "invalid json",
			RequestID: requestctx.RequestIDFromContext(r.Context()),
		})
		return false
	}
	return true
}

// writeError maps err to a status. Internal errors are logged with the
// request id and never exposed to the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := ErrorResponse{
		Error:     err.Error(),
		RequestID: requestctx.RequestIDFromContext(r.Context()),
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
