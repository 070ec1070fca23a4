package realtime

import (
	"log/slog"
	"sync"

	"invoicechat/cmd/internal/metrics"
)

// Hub tracks live sessions so the server can report and drain them.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		clients: make(map[string]*Client),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.SessionID] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSSessions.Set(float64(n))
}

func (h *Hub) remove(sessionID string) {
	h.mu.Lock()
	delete(h.clients, sessionID)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSSessions.Set(float64(n))
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll signals every live session to stop. Sessions deregister themselves
// as their handlers return.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
	if len(clients) > 0 {
		h.log.Info("ws.drain", "sessions", len(clients))
	}
}
