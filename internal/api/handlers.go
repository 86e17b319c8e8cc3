package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"mindsync/internal/conflict"
	"mindsync/internal/models"
)

const maxRequestBody = 4 << 20

type putRequest struct {
	DataType string          `json:"data_type"`
	Payload  json.RawMessage `json:"payload"`
	OwnerID  string          `json:"owner_id"`
	Priority string          `json:"priority"`
}

func (s *HTTPServer) handlePut(w http.ResponseWriter, r *http.Request) {
	var body putRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	priority, err := models.ParsePriority(strings.TrimSpace(body.Priority))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.service.Put(r.Context(), strings.TrimSpace(body.DataType), body.Payload, strings.TrimSpace(body.OwnerID), priority)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dataType := strings.TrimSpace(q.Get("data_type"))
	if dataType == "" {
		writeError(w, http.StatusBadRequest, "data_type is required")
		return
	}

	records, err := s.service.GetByType(r.Context(), dataType, strings.TrimSpace(q.Get("owner_id")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []*models.StagedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *HTTPServer) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearAll(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleClearPending(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearPending(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, r, s.service.SyncAll)
}

func (s *HTTPServer) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, r, s.service.ProcessSyncQueue)
}

func (s *HTTPServer) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, r, s.service.RetryFailed)
}

func (s *HTTPServer) handleSyncType(w http.ResponseWriter, r *http.Request) {
	dataType := r.PathValue("data_type")
	res, err := s.service.SyncType(r.Context(), dataType)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) writeResult(w http.ResponseWriter, r *http.Request, run func(context.Context) (models.SyncResult, error)) {
	res, err := run(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := s.service.ListConflicts(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []*models.ConflictRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (s *HTTPServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	var res conflict.Resolution
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&res); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.service.ResolveConflict(r.Context(), r.PathValue("id"), res); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.GetCapabilities(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.service.State(),
	})
}
