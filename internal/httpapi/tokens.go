package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/agentconsole/internal/observability"
)

type conversationTokenRequest struct {
	AgentID string `json:"agentId"`
	UserID  string `json:"userId"`
}

type conversationTokenResponse struct {
	Token     string  `json:"token"`
	ExpiresAt *string `json:"expiresAt"`
	TTL       *int    `json:"ttl"`
}

type scribeTokenResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleConversationToken(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "token issuer not configured")
		return
	}
	var req conversationTokenRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "agentId is required")
		return
	}

	tok, err := s.issuer.IssueConversationToken(r.Context(), agentID, strings.TrimSpace(req.UserID))
	if err != nil {
		observability.LoggerFromContext(r.Context()).Warn("tokens: conversation token issue failed", "agent_id", agentID, "error", err)
		respondFailure(w, err)
		return
	}
	out := conversationTokenResponse{Token: tok.Token, TTL: tok.TTLSeconds}
	if tok.ExpiresAt != nil {
		ts := tok.ExpiresAt.UTC().Format(time.RFC3339)
		out.ExpiresAt = &ts
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleScribeToken(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "token issuer not configured")
		return
	}
	tok, err := s.issuer.IssueScribeToken(r.Context())
	if err != nil {
		observability.LoggerFromContext(r.Context()).Warn("tokens: scribe token issue failed", "error", err)
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, scribeTokenResponse{Token: tok.Token})
}
