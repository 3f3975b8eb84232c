package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/agentconsole/internal/archive"
	"github.com/ent0n29/agentconsole/internal/config"
	"github.com/ent0n29/agentconsole/internal/observability"
	"github.com/ent0n29/agentconsole/internal/reliability"
	"github.com/ent0n29/agentconsole/internal/session"
	"github.com/ent0n29/agentconsole/internal/voice"
)

type Server struct {
	cfg      config.Config
	consoles *session.Manager
	issuer   voice.TokenIssuer
	archive  archive.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, consoles *session.Manager, issuer voice.TokenIssuer, store archive.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		consoles: consoles,
		issuer:   issuer,
		archive:  store,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a console microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api/agents", func(r chi.Router) {
		r.Post("/conversation-token", s.handleConversationToken)
		r.Post("/scribe-token", s.handleScribeToken)
	})

	r.Post("/v1/consoles", s.handleCreateConsole)
	r.Route("/v1/consoles/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetConsole)
		r.Delete("/", s.handleDeleteConsole)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/capture/start", s.handleStartCapture)
		r.Post("/capture/stop", s.handleStopCapture)
		r.Post("/messages", s.handleSendMessage)
		r.Post("/activity", s.handleActivity)
		r.Get("/archive", s.handleArchive)
		r.Get("/ws", s.handleConsoleWS)
	})

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handleResetPerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"voice_provider":  s.cfg.VoiceProvider,
		"active_consoles": s.consoles.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	archiveMode := "in-memory"
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		archiveMode = "postgres"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"archive_mode": archiveMode,
		"token_issuer": s.issuer != nil,
	})
}

// requestLogger carries chi's request id into the slog context.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = observability.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondFailure maps a classified console error onto an HTTP status.
func respondFailure(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	respondError(w, status, code, err.Error())
}

func statusForError(err error) (int, string) {
	switch reliability.KindOf(err) {
	case reliability.KindState:
		return http.StatusConflict, "invalid_state"
	case reliability.KindPermission:
		return http.StatusForbidden, "permission_denied"
	case reliability.KindAuth:
		return http.StatusUnauthorized, "auth_failed"
	case reliability.KindProtocol:
		return http.StatusBadGateway, "protocol_error"
	case reliability.KindNetwork:
		return http.StatusBadGateway, "network_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
