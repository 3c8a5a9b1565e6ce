package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pes-advisor/internal/dashboard"
	"pes-advisor/internal/models"
	"pes-advisor/internal/pes"
	"pes-advisor/internal/rag"

	"github.com/gorilla/mux"
)

// Querier answers free-text questions from the historical dataset
type Querier interface {
	Query(ctx context.Context, question string) (*models.RAGResult, error)
}

// Store is the read side of the passage store
type Store interface {
	GetStats(ctx context.Context) (*models.StoreStats, error)
	GetPassage(ctx context.Context, id string) (*models.Passage, error)
	ListPassages(ctx context.Context, limit, offset int) ([]models.Passage, error)
}

// Server represents the API server
type Server struct {
	rag    Querier
	store  Store
	router *mux.Router
}

// NewServer creates a new API server. querier and store may be nil, in which
// case the retrieval and store endpoints report 503.
func NewServer(querier Querier, store Store) *Server {
	s := &Server{
		rag:    querier,
		store:  store,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// PES endpoints
	s.router.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	s.router.HandleFunc("/optimal-ranges", s.handleOptimalRanges).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/analysis", s.handleAnalysis).Methods("POST")
	api.HandleFunc("/rag/query", s.handleRAGQuery).Methods("POST")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/passages", s.handleListPassages).Methods("GET")
	api.HandleFunc("/passages/{id}", s.handleGetPassage).Methods("GET")
	api.Use(jsonMiddleware)

	// Dashboard
	s.router.HandleFunc("/dashboard", s.handleDashboard).Methods("GET", "POST")
	s.router.HandleFunc("/dashboard/ask", s.handleDashboardAsk).Methods("POST")
	s.router.HandleFunc("/dashboard/chart", s.handleDashboardChart).Methods("GET")

	s.router.Use(loggingMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Logf is the request logger
var Logf func(format string, v ...interface{}) = log.Printf

// Middleware
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		Logf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total   int   `json:"total,omitempty"`
	Limit   int   `json:"limit,omitempty"`
	Offset  int   `json:"offset,omitempty"`
	QueryMs int64 `json:"query_ms,omitempty"`
}

// writeJSON writes a bare JSON body, as the /analyze and /optimal-ranges
// contracts require
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, data interface{}, m *meta) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: m})
}

// decodeRecord reads a telemetry record body; every field is required
func decodeRecord(r *http.Request) (models.TelemetryRecord, string) {
	var in models.TelemetryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return models.TelemetryRecord{}, "invalid JSON"
	}
	if missing := in.Missing(); len(missing) > 0 {
		return models.TelemetryRecord{}, "missing fields: " + strings.Join(missing, ", ")
	}
	return in.Record(), ""
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type pesOutput struct {
	EstimatedPES float64  `json:"estimated_pes"`
	Suggestions  []string `json:"suggestions"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	record, msg := decodeRecord(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	writeJSON(w, http.StatusOK, pesOutput{
		EstimatedPES: math.Round(pes.ComputeScore(record)*1e6) / 1e6,
		Suggestions:  pes.SuggestAdjustments(record),
	})
}

func (s *Server) handleOptimalRanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pes.OptimalRanges())
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	record, msg := decodeRecord(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	// ErrZeroLapTime is carried in the analysis as speed_error
	analysis, _ := pes.Analyze(record)
	respondJSON(w, http.StatusOK, analysis)
}

type ragRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleRAGQuery(w http.ResponseWriter, r *http.Request) {
	if s.rag == nil {
		respondError(w, http.StatusServiceUnavailable, "retrieval is not configured")
		return
	}

	start := time.Now()
	var req ragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := s.rag.Query(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, rag.ErrNoUsableContext) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithMeta(w, result, &meta{QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store is not configured")
		return
	}

	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

const defaultPassageLimit = 100

func (s *Server) handleListPassages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store is not configured")
		return
	}

	start := time.Now()
	limit, offset := defaultPassageLimit, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	passages, err := s.store.ListPassages(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if passages == nil {
		passages = []models.Passage{}
	}

	respondWithMeta(w, passages, &meta{
		Total:   len(passages),
		Limit:   limit,
		Offset:  offset,
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleGetPassage(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store is not configured")
		return
	}

	id := mux.Vars(r)["id"]
	passage, err := s.store.GetPassage(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "passage not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, passage)
}

func renderHTML(w http.ResponseWriter, status int, render func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		respondError(w, http.StatusInternalServerError, "render error: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		view := dashboard.NewView(dashboard.DefaultRecord())
		renderHTML(w, http.StatusOK, func(b *bytes.Buffer) error { return dashboard.RenderPage(b, view) })
		return
	}

	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}

	record, err := dashboard.RecordFromValues(r.PostForm)
	if err != nil {
		view := dashboard.NewView(dashboard.DefaultRecord())
		view.Error = err.Error()
		renderHTML(w, http.StatusBadRequest, func(b *bytes.Buffer) error { return dashboard.RenderPage(b, view) })
		return
	}

	analysis, _ := pes.Analyze(record)
	view := dashboard.NewView(record)
	view.Analysis = &analysis
	view.ChartURL = "/dashboard/chart?" + dashboard.RecordValues(record).Encode()
	renderHTML(w, http.StatusOK, func(b *bytes.Buffer) error { return dashboard.RenderPage(b, view) })
}

func (s *Server) handleDashboardAsk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}

	view := dashboard.NewView(dashboard.DefaultRecord())
	view.Query = r.PostForm.Get("query")

	switch {
	case s.rag == nil:
		view.RAGError = "retrieval is not configured"
	default:
		result, err := s.rag.Query(r.Context(), view.Query)
		switch {
		case errors.Is(err, rag.ErrNoUsableContext):
			view.RAGError = "no suggestions available: " + err.Error()
		case err != nil:
			view.RAGError = err.Error()
		default:
			view.RAG = result
		}
	}

	renderHTML(w, http.StatusOK, func(b *bytes.Buffer) error { return dashboard.RenderPage(b, view) })
}

func (s *Server) handleDashboardChart(w http.ResponseWriter, r *http.Request) {
	record, err := dashboard.RecordFromValues(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	renderHTML(w, http.StatusOK, func(b *bytes.Buffer) error { return dashboard.RenderRadar(b, record) })
}
