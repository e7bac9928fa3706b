package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"clawconsole/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Event is one message on the live feed.
type Event struct {
	Type   string                  `json:"type"` // "status" | "result" | "audit"
	Status string                  `json:"status,omitempty"`
	Result *domain.CommandResult   `json:"result,omitempty"`
	Audit  *domain.ShellAuditEntry `json:"audit,omitempty"`
}

// EventHub fans finished commands and audit entries out to WebSocket
// clients. It implements shell.Sink; a slow client loses events instead of
// stalling the engine.
type EventHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*eventClient]struct{}
}

type eventClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*eventClient]struct{}),
	}
}

func (h *EventHub) RecordResult(_ context.Context, res domain.CommandResult) error {
	h.broadcast(Event{Type: "result", Result: &res})
	return nil
}

func (h *EventHub) RecordAudit(_ context.Context, entry domain.ShellAuditEntry) error {
	h.broadcast(Event{Type: "audit", Audit: &entry})
	return nil
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("event dropped for slow client", "remote", c.conn.RemoteAddr())
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *EventHub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &eventClient{conn: conn, send: make(chan []byte, clientBuffer)}
	hello, _ := json.Marshal(Event{Type: "status", Status: "connected"})
	c.send <- hello

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("event client connected", "remote", conn.RemoteAddr())

	done := make(chan struct{})
	go h.writeLoop(c, done)

	// Read loop: clients never send anything meaningful; this only notices
	// when they go away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "err", err)
			}
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(done)
	conn.Close()
	h.logger.Info("event client disconnected", "remote", conn.RemoteAddr())
}

func (h *EventHub) writeLoop(c *eventClient, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket write failed", "err", err)
				c.conn.Close()
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
}
