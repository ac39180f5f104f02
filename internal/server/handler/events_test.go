package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quorumlabs/foresight/internal/domain"
)

type fakeEventStream struct {
	messages []domain.StreamMessage
	stream   string
	lastID   string
	count    int
}

func (f *fakeEventStream) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	f.stream = stream
	f.lastID = lastID
	f.count = count

	var out []domain.StreamMessage
	for _, m := range f.messages {
		if m.ID > lastID {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestListEvents_ReplaysAfterCursor(t *testing.T) {
	stream := &fakeEventStream{messages: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"event":"market.created","market_id":1}`)},
		{ID: "2-0", Payload: []byte(`{"event":"market.resolved","market_id":1}`)},
	}}
	h := NewEventsHandler(stream)

	req := httptest.NewRequest("GET", "/api/events?after=1-0&limit=10", nil)
	rec := httptest.NewRecorder()
	h.ListEvents(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=200", rec.Code)
	}
	if stream.stream != "markets:events" || stream.lastID != "1-0" || stream.count != 10 {
		t.Fatalf("read stream=%q lastID=%q count=%d", stream.stream, stream.lastID, stream.count)
	}

	var body struct {
		Events []struct {
			Cursor string          `json:"cursor"`
			Event  json.RawMessage `json:"event"`
		} `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Cursor != "2-0" {
		t.Fatalf("events=%+v want one entry at cursor 2-0", body.Events)
	}
}

func TestListEvents_DefaultsToStreamStart(t *testing.T) {
	stream := &fakeEventStream{}
	h := NewEventsHandler(stream)

	req := httptest.NewRequest("GET", "/api/events", nil)
	rec := httptest.NewRecorder()
	h.ListEvents(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=200", rec.Code)
	}
	if stream.lastID != "0" {
		t.Fatalf("lastID=%q want stream start", stream.lastID)
	}
	if stream.count != 50 {
		t.Fatalf("count=%d want default limit 50", stream.count)
	}
}
