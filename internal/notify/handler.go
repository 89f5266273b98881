package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/buildmat/buildmat/internal/shared"
)

// Handler exposes the event stream and the per-topic timestamp snapshot.
type Handler struct {
	logger *slog.Logger
	bus    *Bus
	hub    *SSEHub
}

// NewHandler constructs the notify HTTP handler.
func NewHandler(logger *slog.Logger, bus *Bus, hub *SSEHub) *Handler {
	return &Handler{logger: logger, bus: bus, hub: hub}
}

// MountRoutes registers notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/events", h.stream)
	r.Get("/topics", h.topics)
}

// stream handles GET /api/events, a Server-Sent Events feed of refresh
// signals. Clients reconnect on drop; the topics snapshot covers the gap.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var userID int64
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		userID = sess.UserID
	}
	client := h.hub.Register(userID)
	defer h.hub.Unregister(client.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-client.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: refresh\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// topics handles GET /api/topics: the last-publish timestamp per topic, the
// durable half of the bus. Views regaining focus compare these against their
// own fetch times instead of refetching blindly.
func (h *Handler) topics(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]int64, len(AllTopics))
	for _, topic := range AllTopics {
		last, err := h.bus.LastPublished(r.Context(), topic)
		if err != nil {
			h.logger.Warn("notify: topic snapshot", slog.String("topic", string(topic)), slog.Any("error", err))
			continue
		}
		if !last.IsZero() {
			out[string(topic)] = last.UnixMilli()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
