package notify

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// SSEClient represents one connected event stream.
type SSEClient struct {
	ID     string
	UserID int64
	Events chan Event
}

// SSEHub fans refresh events out to connected browser contexts. It replaces
// the original deployment's cross-tab local-storage polling: every open tab
// holds one stream and sees the same topic signals.
type SSEHub struct {
	mu      sync.RWMutex
	clients map[string]*SSEClient
	logger  *slog.Logger
}

// NewSSEHub creates an empty hub.
func NewSSEHub(logger *slog.Logger) *SSEHub {
	return &SSEHub{clients: make(map[string]*SSEClient), logger: logger}
}

// Register adds a client and returns it.
func (h *SSEHub) Register(userID int64) *SSEClient {
	client := &SSEClient{
		ID:     uuid.NewString(),
		UserID: userID,
		Events: make(chan Event, 16),
	}
	h.mu.Lock()
	h.clients[client.ID] = client
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("sse: client registered", slog.String("id", client.ID), slog.Int("total", total))
	return client
}

// Unregister removes a client and closes its channel.
func (h *SSEHub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
	}
}

// Broadcast delivers an event to every connected client. A client with a full
// buffer is skipped; it will catch up on its next poll.
func (h *SSEHub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Events <- ev:
		default:
			h.logger.Debug("sse: client buffer full, dropping", slog.String("id", client.ID))
		}
	}
}

// Bind subscribes the hub to every topic on the bus so all signals reach the
// connected streams. Returns a func that removes the subscriptions.
func (h *SSEHub) Bind(bus *Bus) func() {
	unsubs := make([]func(), 0, len(AllTopics))
	for _, topic := range AllTopics {
		unsubs = append(unsubs, bus.Subscribe(topic, h.Broadcast))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
