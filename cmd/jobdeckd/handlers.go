package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jobdeck/jobdeck/internal/assistant"
	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/internal/push"
	"github.com/jobdeck/jobdeck/internal/store"
)

// apiServer exposes the HTTP surface: messages in, approvals, thread
// transcripts, and the websocket endpoint.
type apiServer struct {
	orch   *assistant.Orchestrator
	stores store.Set
	hub    *push.Hub
	logger *observability.Logger
}

func newAPIServer(orch *assistant.Orchestrator, stores store.Set, hub *push.Hub, logger *observability.Logger) *apiServer {
	return &apiServer{orch: orch, stores: stores, hub: hub, logger: logger}
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", s.handlePostMessage)
	mux.HandleFunc("POST /v1/executions/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/executions/{id}/deny", s.handleDeny)
	mux.HandleFunc("GET /v1/threads/{id}/messages", s.handleGetTranscript)
	mux.HandleFunc("GET /v1/turns/{id}", s.handleGetTurn)
	mux.Handle("GET /v1/ws", s.hub)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type postMessageRequest struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Content  string `json:"content"`

	// PageContext names the UI surface the message was sent from and
	// narrows which tools the assistant may use for the turn.
	PageContext string `json:"page_context"`
}

func (s *apiServer) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "user_id and content are required")
		return
	}

	turn, err := s.orch.HandleUserMessage(r.Context(), req.ThreadID, req.UserID, req.Content, req.PageContext)
	if err != nil {
		if turn == nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// The turn exists but errored; the client gets its terminal state.
	}
	writeJSON(w, http.StatusAccepted, turn)
}

func (s *apiServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.orch.Approve)
}

func (s *apiServer) handleDeny(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.orch.Deny)
}

type approvalRequest struct {
	UserID string `json:"user_id"`
}

// decide is the shared approve/deny handler. The execution's owner check
// keeps one user from deciding another user's confirmations.
func (s *apiServer) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, executionID, userID string) error) {
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	executionID := r.PathValue("id")

	exec, err := s.stores.Executions.Get(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if exec.UserID != req.UserID {
		writeError(w, http.StatusForbidden, "execution belongs to another user")
		return
	}

	if err := fn(r.Context(), executionID, req.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	updated, err := s.stores.Executions.Get(r.Context(), executionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *apiServer) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if !s.authorizeThread(w, r, threadID) {
		return
	}
	msgs, err := s.stores.Messages.ListByThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *apiServer) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	turn, err := s.stores.Turns.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "turn not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.authorizeThread(w, r, turn.ThreadID) {
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// authorizeThread checks that the requesting user owns the thread, writing
// the error response itself when they do not.
func (s *apiServer) authorizeThread(w http.ResponseWriter, r *http.Request, threadID string) bool {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return false
	}
	thread, err := s.stores.Threads.Get(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "thread not found")
			return false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	if thread.UserID != userID {
		writeError(w, http.StatusForbidden, "thread belongs to another user")
		return false
	}
	return true
}
