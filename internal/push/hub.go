// Package push delivers live events to connected clients over websockets:
// approval prompts when a tool execution needs confirmation and completion
// events when a turn reaches a terminal status.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// sendBuffer bounds per-client queued events; a client that cannot
	// keep up is dropped rather than blocking the hub.
	sendBuffer = 32
)

// Event is one push message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ThreadOwnerFunc resolves the owning user of a thread.
type ThreadOwnerFunc func(ctx context.Context, threadID string) (string, error)

// Hub fans events out to every connection a user holds.
type Hub struct {
	logger      *observability.Logger
	threadOwner ThreadOwnerFunc
	upgrader    websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// NewHub creates a hub. threadOwner is used to route turn events.
func NewHub(logger *observability.Logger, threadOwner ThreadOwnerFunc) *Hub {
	return &Hub{
		logger:      logger,
		threadOwner: threadOwner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection and registers it for the authenticated
// user. The caller must have resolved the user before routing here.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Event, sendBuffer)}
	h.register(userID, c)
	go h.writePump(userID, c)
	go h.readPump(userID, c)
}

func (h *Hub) register(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*client]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

func (h *Hub) unregister(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.conns, userID)
			}
		}
	}
}

// Send delivers an event to every connection of one user. Slow clients are
// disconnected instead of queued unboundedly.
func (h *Hub) Send(userID string, event Event) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- event:
		default:
			h.unregister(userID, c)
			c.conn.Close()
		}
	}
}

func (h *Hub) writePump(userID string, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the socket is push-only. It exists to
// process pongs and to notice the peer going away.
func (h *Hub) readPump(userID string, c *client) {
	defer func() {
		h.unregister(userID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ExecutionPending announces an execution waiting for user approval.
func (h *Hub) ExecutionPending(ctx context.Context, exec *models.ToolExecution) {
	h.Send(exec.UserID, Event{
		Type: "execution.pending_approval",
		Payload: map[string]any{
			"execution_id": exec.ID,
			"thread_id":    exec.ThreadID,
			"tool_key":     exec.ToolKey,
			"args":         json.RawMessage(exec.Args),
		},
	})
}

// TurnCompleted announces a terminal turn to the thread's owner.
func (h *Hub) TurnCompleted(ctx context.Context, turn *models.Turn, msg *models.Message) {
	userID, err := h.threadOwner(ctx, turn.ThreadID)
	if err != nil {
		h.logger.Warn(ctx, "cannot route turn event, unknown thread owner",
			"thread_id", turn.ThreadID, "error", err)
		return
	}

	payload := map[string]any{
		"turn_id":   turn.ID,
		"thread_id": turn.ThreadID,
		"status":    string(turn.Status),
	}
	if turn.ErrorText != "" {
		payload["error"] = turn.ErrorText
	}
	if msg != nil {
		payload["message_id"] = msg.ID
		payload["content"] = msg.Content
	}
	h.Send(userID, Event{Type: "turn.completed", Payload: payload})
}
