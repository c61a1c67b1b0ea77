package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/harun/nexus/internal/tracing"
	"github.com/harun/nexus/pkg/agent"
	"github.com/harun/nexus/pkg/session"
)

// maxBodyBytes bounds run request bodies.
const maxBodyBytes = 1 << 20

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	id, err := s.engine.Start(r.Context(), agent.Request{
		Query:          req.Query,
		Metadata:       req.metadata(),
		IdempotencyKey: key,
	})
	if err != nil {
		s.writeStartError(w, r, err)
		return
	}
	w.Header().Set("X-Session-ID", id)
	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Info().
		Str("session_id", id).
		Str("client", clientIDFromContext(r.Context())).
		Bool("streaming", req.streaming()).
		Msg("Run requested")

	if req.streaming() {
		sub, err := s.engine.Subscribe(id)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err.Error(), id)
			return
		}
		s.streamSSE(w, r, sub, 0)
		return
	}

	snap, err := s.engine.Wait(r.Context(), id)
	if err != nil {
		// The caller went away; the session keeps running.
		logger.Debug().
			Str("session_id", id).
			Err(err).
			Msg("Client stopped waiting for session")
		return
	}
	s.writeJSON(w, http.StatusOK, newRunResponse(snap, time.Now()))
}

func (s *Server) writeStartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agent.ErrAdmissionRejected):
		w.Header().Set("Retry-After", "1")
		s.writeError(w, r, http.StatusTooManyRequests, err.Error(), "")
	case errors.Is(err, session.ErrEmptyQuery):
		s.writeError(w, r, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, agent.ErrEngineClosed):
		s.writeError(w, r, http.StatusServiceUnavailable, err.Error(), "")
	default:
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("Failed to start session")
		s.writeError(w, r, http.StatusInternalServerError, err.Error(), "")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.engine.Status(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, r, err, id)
		return
	}
	s.writeJSON(w, http.StatusOK, newRunResponse(snap, time.Now()))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Cancel(id); err != nil {
		s.writeSessionError(w, r, err, id)
		return
	}
	s.writeJSON(w, http.StatusAccepted, CancelResponse{SessionID: id, Status: "cancelling"})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	contracts := s.engine.Tools()
	tools := make([]ToolInfo, 0, len(contracts))
	for _, c := range contracts {
		tools = append(tools, newToolInfo(c))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.shuttingDown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":           status,
		"running_sessions": s.engine.Running(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error, id string) {
	switch {
	case errors.Is(err, agent.ErrSessionNotFound):
		s.writeError(w, r, http.StatusNotFound, "session not found", id)
	case errors.Is(err, agent.ErrSessionFinished):
		s.writeError(w, r, http.StatusConflict, "session already finished", id)
	default:
		s.writeError(w, r, http.StatusInternalServerError, err.Error(), id)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg, sessionID string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     msg,
		SessionID: sessionID,
		TraceID:   tracing.GetTraceID(r.Context()),
	})
}
