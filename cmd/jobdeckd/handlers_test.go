package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/internal/push"
	"github.com/jobdeck/jobdeck/internal/store"
	"github.com/jobdeck/jobdeck/pkg/models"
)

func newTestAPIServer(t *testing.T) (http.Handler, store.Set) {
	t.Helper()
	stores := store.NewMemorySet()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	hub := push.NewHub(logger, func(ctx context.Context, threadID string) (string, error) {
		thread, err := stores.Threads.Get(ctx, threadID)
		if err != nil {
			return "", err
		}
		return thread.UserID, nil
	})
	return newAPIServer(nil, stores, hub, logger).routes(), stores
}

func seedThread(t *testing.T, stores store.Set) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := stores.Threads.Create(ctx, &models.Thread{
		ID: "t1", UserID: "user-1", Status: models.ThreadOpen,
		LastActivityAt: now, CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed thread: %v", err)
	}
	if err := stores.Messages.Create(ctx, &models.Message{
		ID: "m1", ThreadID: "t1", Role: models.RoleUser, Content: "hi", CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if err := stores.Turns.Create(ctx, &models.Turn{
		ID: "turn-1", ThreadID: "t1", UserMessageID: "m1",
		Status: models.TurnSuccess, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed turn: %v", err)
	}
}

func getStatus(t *testing.T, handler http.Handler, target string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestTranscriptReadScopedToThreadOwner(t *testing.T) {
	handler, stores := newTestAPIServer(t)
	seedThread(t, stores)

	if got := getStatus(t, handler, "/v1/threads/t1/messages?user_id=user-1"); got != http.StatusOK {
		t.Errorf("owner read = %d, want 200", got)
	}
	if got := getStatus(t, handler, "/v1/threads/t1/messages?user_id=user-2"); got != http.StatusForbidden {
		t.Errorf("foreign read = %d, want 403", got)
	}
	if got := getStatus(t, handler, "/v1/threads/t1/messages"); got != http.StatusBadRequest {
		t.Errorf("anonymous read = %d, want 400", got)
	}
	if got := getStatus(t, handler, "/v1/threads/missing/messages?user_id=user-1"); got != http.StatusNotFound {
		t.Errorf("missing thread = %d, want 404", got)
	}
}

func TestTurnReadScopedToThreadOwner(t *testing.T) {
	handler, stores := newTestAPIServer(t)
	seedThread(t, stores)

	if got := getStatus(t, handler, "/v1/turns/turn-1?user_id=user-1"); got != http.StatusOK {
		t.Errorf("owner read = %d, want 200", got)
	}
	if got := getStatus(t, handler, "/v1/turns/turn-1?user_id=user-2"); got != http.StatusForbidden {
		t.Errorf("foreign read = %d, want 403", got)
	}
	if got := getStatus(t, handler, "/v1/turns/missing?user_id=user-1"); got != http.StatusNotFound {
		t.Errorf("missing turn = %d, want 404", got)
	}
}
