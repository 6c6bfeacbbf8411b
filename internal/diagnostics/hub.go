package diagnostics

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub forwards diagnostic Events to every connected WebSocket dashboard
// client, the way the teacher's cmd/server/main.go forwards job results
// from its clientHub map. Unlike the teacher (one connection per job ID),
// diagnostics are broadcast to every connected client: a dashboard wants
// to see all mnemonics' events, not just one job's.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("diagnostics websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run subscribes to publisher and forwards every Event to all connected
// clients until ctx is canceled.
func (h *Hub) Run(ctx context.Context, publisher *RedisPublisher) error {
	events, err := publisher.Subscribe(ctx)
	if err != nil {
		return err
	}

	for evt := range events {
		h.broadcast(evt)
	}
	return nil
}

func (h *Hub) broadcast(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(evt); err != nil {
			slog.Error("failed to write diagnostic event to websocket client", "error", err)
		}
	}
}
