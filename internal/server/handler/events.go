package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/quorumlabs/foresight/internal/domain"
)

// EventStream replays durable settlement events. Satisfied by the Redis
// signal bus.
type EventStream interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// marketEventStream is the durable stream the registry appends every market
// event to.
const marketEventStream = "markets:events"

// EventsHandler serves catch-up reads of the market event stream so a client
// reconnecting after a WebSocket drop can replay what it missed.
type EventsHandler struct {
	stream EventStream
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(stream EventStream) *EventsHandler {
	return &EventsHandler{stream: stream}
}

// ListEvents responds with events recorded after the given stream cursor.
// An absent cursor starts from the beginning of the retained window. Each
// entry carries its own cursor so the client can resume from the last one
// it saw.
// GET /api/events?after=<cursor>&limit=<n>
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := parseListOpts(r).Limit

	messages, err := h.stream.StreamRead(r.Context(), marketEventStream, after, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type eventEntry struct {
		Cursor string          `json:"cursor"`
		Event  json.RawMessage `json:"event"`
	}
	entries := make([]eventEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, eventEntry{Cursor: msg.ID, Event: json.RawMessage(msg.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}
