// Package server exposes the assistant over HTTP: a chat endpoint that
// starts or resumes workflow sessions, and a session inspection endpoint.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dshills/nl2sql-go/assistant"
	"github.com/dshills/nl2sql-go/flow"
	"github.com/dshills/nl2sql-go/flow/store"
)

// Server handles the HTTP API over a workflow engine.
type Server struct {
	engine *flow.Engine
	logger *slog.Logger
}

// New creates a Server. A nil logger uses slog.Default().
func New(engine *flow.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger}
}

// Router builds the chi handler for the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/sessions/{id}", s.handleSession)
	return r
}

// ChatRequest is the body of POST /v1/chat. An empty SessionID starts a new
// session.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the reply to POST /v1/chat.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Status    string `json:"status"`
	Intent    string `json:"intent,omitempty"`
	SQLQuery  string `json:"sql_query,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionResponse is the reply to GET /v1/sessions/{id}.
type SessionResponse struct {
	SessionID   string         `json:"session_id"`
	Status      string         `json:"status"`
	Seq         int            `json:"seq"`
	PendingStep string         `json:"pending_step,omitempty"`
	History     []flow.Message `json:"history"`
	Values      map[string]any `json:"values"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat routes an incoming message to the right engine operation: a
// suspended session gets the message as its resume value, everything else
// starts a new turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := r.Context()
	suspended := false
	if snap, err := s.engine.Inspect(ctx, sessionID); err == nil {
		switch snap.Status {
		case store.StatusSuspended:
			suspended = true
		case store.StatusRunning:
			s.writeError(w, http.StatusConflict, "session has a run in progress")
			return
		}
	} else if !errors.Is(err, flow.ErrSessionNotFound) {
		s.logger.Error("session inspect failed", "session", sessionID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	var (
		outcome flow.Outcome
		err     error
	)
	if suspended {
		outcome, err = s.engine.Resume(ctx, sessionID, req.Message)
	} else {
		outcome, err = s.engine.Start(ctx, sessionID, flow.Delta{
			History: []flow.Message{{Role: flow.RoleUser, Content: req.Message}},
		})
	}
	if err != nil {
		s.logger.Error("chat turn failed", "session", sessionID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	resp := ChatResponse{
		SessionID: sessionID,
		Status:    string(outcome.Kind),
		Intent:    outcome.State.StringValue(assistant.KeyIntent),
		SQLQuery:  outcome.State.StringValue(assistant.KeySQLQuery),
		Reply:     replyText(outcome),
	}
	if outcome.Err != nil {
		resp.Error = outcome.Err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	snap, err := s.engine.Inspect(r.Context(), sessionID)
	if errors.Is(err, flow.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("session inspect failed", "session", sessionID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	s.writeJSON(w, http.StatusOK, SessionResponse{
		SessionID:   snap.SessionID,
		Status:      string(snap.Status),
		Seq:         snap.Seq,
		PendingStep: snap.PendingStep,
		History:     snap.State.History,
		Values:      snap.State.Values,
	})
}

// replyText picks the user-facing message out of an outcome: the pending
// question for a suspension, otherwise the newest assistant message.
func replyText(outcome flow.Outcome) string {
	if outcome.Kind == flow.OutcomeSuspended {
		if payload, ok := outcome.Payload.(map[string]any); ok {
			if q, ok := payload["question"].(string); ok && q != "" {
				return q
			}
		}
	}
	if msg, ok := outcome.State.LastMessage(flow.RoleAssistant); ok {
		return msg.Content
	}
	if outcome.Kind == flow.OutcomeFailed {
		return "Something went wrong while processing your message."
	}
	return ""
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
