// Package server exposes the operational HTTP surface: health, sync status,
// manual run triggers, a notice listing endpoint, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tendhunt/data-sync-service/internal/config"
	"github.com/tendhunt/data-sync-service/internal/models"
	"github.com/tendhunt/data-sync-service/internal/storage"
	syncpkg "github.com/tendhunt/data-sync-service/internal/sync"
)

// Server is the HTTP server for the sync service.
type Server struct {
	store  storage.Store
	runner *syncpkg.Runner
	log    zerolog.Logger
	server *http.Server
}

// jobStatus is the per-source view returned by the status endpoint. The
// error log is trimmed to the most recent entries to keep responses small.
type jobStatus struct {
	Source         models.Source     `json:"source"`
	Status         models.SyncStatus `json:"status"`
	Cursor         string            `json:"cursor,omitempty"`
	LastSyncedDate *time.Time        `json:"lastSyncedDate,omitempty"`
	TotalFetched   int64             `json:"totalFetched"`
	LastRunAt      time.Time         `json:"lastRunAt"`
	LastRunFetched int               `json:"lastRunFetched"`
	LastRunErrors  int               `json:"lastRunErrors"`
	RecentErrors   []string          `json:"recentErrors,omitempty"`
}

type statusResponse struct {
	Jobs          []jobStatus `json:"jobs"`
	Notices       int64       `json:"notices"`
	Organizations int64       `json:"organizations"`
}

// NewServer creates a new HTTP server.
func NewServer(cfg config.ServerConfig, store storage.Store, runner *syncpkg.Runner, log zerolog.Logger) *Server {
	s := &Server{
		store:  store,
		runner: runner,
		log:    log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/run", s.handleRun)
	mux.HandleFunc("/notices", s.handleNotices)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobs, err := s.store.ListSyncJobs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list sync jobs", err)
		return
	}
	notices, err := s.store.CountNotices(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count notices", err)
		return
	}
	orgs, err := s.store.CountOrganizations(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count organizations", err)
		return
	}

	resp := statusResponse{
		Jobs:          make([]jobStatus, 0, len(jobs)),
		Notices:       notices,
		Organizations: orgs,
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, jobStatus{
			Source:         job.Source,
			Status:         job.Status,
			Cursor:         job.Cursor,
			LastSyncedDate: job.LastSyncedDate,
			TotalFetched:   job.TotalFetched,
			LastRunAt:      job.LastRunAt,
			LastRunFetched: job.LastRunFetched,
			LastRunErrors:  job.LastRunErrors,
			RecentErrors:   lastN(job.ErrorLog, 5),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleRun triggers a sync run for one source, or all sources when the
// source parameter is omitted. The run executes synchronously; a run
// already in flight for the source yields 409.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.URL.Query().Get("source")
	if raw == "" {
		summaries, err := s.runner.RunAll(r.Context())
		if err != nil && errors.Is(err, syncpkg.ErrRunInProgress) {
			s.writeError(w, http.StatusConflict, "sync already in progress", err)
			return
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "sync run failed", err)
			return
		}
		s.writeJSON(w, http.StatusOK, summaries)
		return
	}

	src, err := models.ParseSource(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid source", err)
		return
	}

	summary, err := s.runner.Run(r.Context(), src)
	if err != nil {
		if errors.Is(err, syncpkg.ErrRunInProgress) {
			s.writeError(w, http.StatusConflict, "sync already in progress", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "sync run failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := storage.NoticeQuery{
		Buyer: r.URL.Query().Get("buyer"),
		Limit: 50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", nil)
			return
		}
		query.Limit = limit
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "from must be an RFC3339 timestamp", err)
			return
		}
		query.PublishedFrom = &from
	}

	notices, err := s.store.ListNotices(r.Context(), query)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list notices", err)
		return
	}
	if notices == nil {
		notices = []models.Notice{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(notices),
		"notices": notices,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		s.log.Error().Err(err).Int("status", status).Msg(message)
	}
	s.writeJSON(w, status, map[string]string{"error": message})
}

func lastN(entries []string, n int) []string {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
