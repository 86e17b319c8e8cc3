package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mindsync/internal/config"
	"mindsync/internal/conflict"
	"mindsync/internal/domain"
	"mindsync/internal/metrics"
	"mindsync/internal/models"
	"mindsync/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SyncService is the engine surface exposed over HTTP.
type SyncService interface {
	Put(ctx context.Context, dataType string, payload json.RawMessage, ownerID string, priority models.Priority) (string, error)
	Get(ctx context.Context, id string) (*models.StagedRecord, error)
	GetByType(ctx context.Context, dataType, ownerID string) ([]*models.StagedRecord, error)
	SyncAll(ctx context.Context) (models.SyncResult, error)
	SyncType(ctx context.Context, dataType string) (models.SyncResult, error)
	ProcessSyncQueue(ctx context.Context) (models.SyncResult, error)
	RetryFailed(ctx context.Context) (models.SyncResult, error)
	ResolveConflict(ctx context.Context, id string, res conflict.Resolution) error
	ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error)
	ClearAll(ctx context.Context) error
	ClearPending(ctx context.Context) error
	GetCapabilities(ctx context.Context) (models.CapabilitySnapshot, error)
	State() worker.State
}

// HTTPServer exposes the sync engine to host applications.
type HTTPServer struct {
	cfg     config.APIConfig
	service SyncService
	server  *http.Server
	auth    *HTTPAuth
	logger  *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, service SyncService, logger *zerolog.Logger) *HTTPServer {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}
	srv := &HTTPServer{cfg: cfg, service: service, auth: NewHTTPAuth(cfg), logger: &base}

	mux := http.NewServeMux()
	srv.route(mux, "POST /api/v1/records", "records.put", PermWriteRecords, srv.handlePut)
	srv.route(mux, "GET /api/v1/records", "records.list", PermReadRecords, srv.handleList)
	srv.route(mux, "GET /api/v1/records/{id}", "records.get", PermReadRecords, srv.handleGet)
	srv.route(mux, "DELETE /api/v1/records", "records.clear", PermWriteRecords, srv.handleClearAll)
	srv.route(mux, "DELETE /api/v1/records/pending", "records.clear_pending", PermWriteRecords, srv.handleClearPending)
	srv.route(mux, "POST /api/v1/sync", "sync.all", PermSync, srv.handleSyncAll)
	srv.route(mux, "POST /api/v1/sync/queue", "sync.queue", PermSync, srv.handleProcessQueue)
	srv.route(mux, "POST /api/v1/sync/retry-failed", "sync.retry_failed", PermSync, srv.handleRetryFailed)
	srv.route(mux, "POST /api/v1/sync/type/{data_type}", "sync.type", PermSync, srv.handleSyncType)
	srv.route(mux, "GET /api/v1/conflicts", "conflicts.list", PermReadRecords, srv.handleListConflicts)
	srv.route(mux, "POST /api/v1/conflicts/{id}/resolve", "conflicts.resolve", PermResolve, srv.handleResolve)
	srv.route(mux, "GET /api/v1/capabilities", "capabilities", PermReadRecords, srv.handleCapabilities)
	mux.HandleFunc("GET /healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

// Handler returns the root handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern, name, perm string, h http.HandlerFunc) {
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(name)
		h(w, r)
	})
	mux.Handle(pattern, s.auth.Require(perm, counted))
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var se *domain.StorageError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotInConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &se):
		s.logger.Error().Err(err).Msg("storage failure")
		writeError(w, http.StatusInternalServerError, "storage failure")
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
