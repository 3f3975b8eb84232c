package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/agentconsole/internal/observability"
	"github.com/ent0n29/agentconsole/internal/session"
)

type startRequest struct {
	AgentID string `json:"agent_id"`
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleCreateConsole(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	c, err := s.consoles.Create(req.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.metrics.ActiveConsoles.Set(float64(s.consoles.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("console_created").Inc()
	observability.LoggerFromContext(r.Context()).Info("console: created", "console_id", c.ID, "user_id", c.UserID)

	respondJSON(w, http.StatusCreated, session.NewCreateResponse(c, s.consoles.InactivityTimeout()))
}

func (s *Server) handleGetConsole(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupConsole(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, c.Coordinator.Snapshot())
}

func (s *Server) handleDeleteConsole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.consoles.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "console_not_found", err.Error())
		return
	}
	s.metrics.ActiveConsoles.Set(float64(s.consoles.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("console_ended").Inc()
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupConsole(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		agentID = s.cfg.DefaultAgentID
	}
	if err := c.Coordinator.Start(r.Context(), agentID); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c.Coordinator.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupConsole(w, r)
	if !ok {
		return
	}
	c.Coordinator.Stop()
	respondJSON(w, http.StatusOK, c.Coordinator.Snapshot())
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupConsole(w, r)
	if !ok {
		return
	}
	if err := c.Coordinator.StartCapture(r.Context()); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c.Coordinator.Snapshot())
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupConsole(w, r)
	if !ok {
		return
	}
	c.Coordinator.StopCapture()
	respondJSON(w, http.StatusOK, c.Coordinator.Snapshot())
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupConsole(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be {\"text\": ...}")
		return
	}
	if err := c.Coordinator.SendMessage(r.Context(), req.Text); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c.Coordinator.Snapshot())
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupConsole(w, r)
	if !ok {
		return
	}
	c.Coordinator.NotifyActivity(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupConsole(w, r)
	if !ok {
		return
	}
	if s.archive == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "archive not configured")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries, err := s.archive.RecentEntries(r.Context(), c.UserID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"console_id": c.ID,
		"user_id":    c.UserID,
		"entries":    entries,
	})
}

// lookupConsole resolves {id} and marks the console active.
func (s *Server) lookupConsole(w http.ResponseWriter, r *http.Request) (*session.Console, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_console_id", "missing console id")
		return nil, false
	}
	c, err := s.consoles.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "console_not_found", err.Error())
		return nil, false
	}
	_ = s.consoles.Touch(id)
	return c, true
}
