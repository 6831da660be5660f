// internal/webhook/server_test.go
package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/firetail/internal/correlate"
	"github.com/user/firetail/internal/firehose"
	"github.com/user/firetail/internal/state"
	"github.com/user/firetail/internal/types"
)

func newTestServer(t *testing.T) (*Server, *state.Store) {
	t.Helper()
	store := state.NewStore()
	return NewServer(store, correlate.New(nil), nil, nil), store
}

func seed(store *state.Store) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Upsert(&types.CanonicalEvent{
		ID: "m1", Kind: types.KindMessage, SessionID: "s1",
		CreatedAt: at, Content: "hello", TokenCount: 2,
	})
	store.Upsert(&types.CanonicalEvent{
		ID: "c1", Kind: types.KindToolCall, SessionID: "s1",
		CreatedAt: at.Add(time.Second), ToolUseID: "t1", ToolName: "grep",
	})
	store.Upsert(&types.CanonicalEvent{
		ID: "r1", Kind: types.KindToolResult, SessionID: "s1",
		CreatedAt: at.Add(2 * time.Second), ToolUseID: "t1", Result: "ok",
	})
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSessionsList(t *testing.T) {
	srv, store := newTestServer(t)
	seed(store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	var got []sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].SessionID != "s1" || got[0].EventCount != 3 || got[0].TokenCount != 2 {
		t.Errorf("wrong sessions response: %+v", got)
	}
}

func TestSessionEventsRespectsLimit(t *testing.T) {
	srv, store := newTestServer(t)
	seed(store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/events?limit=2", nil))

	var got []types.CanonicalEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	// The limit keeps the most recent tail.
	if got[0].ID != "c1" || got[1].ID != "r1" {
		t.Errorf("wrong tail: %+v", got)
	}
}

func TestSessionInteractions(t *testing.T) {
	srv, store := newTestServer(t)
	seed(store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/interactions", nil))

	var got []correlate.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected message + interaction, got %d items", len(got))
	}
	if got[1].Interaction == nil || got[1].Interaction.Result == nil {
		t.Errorf("interaction not paired: %+v", got[1])
	}
}

func TestStatusUnavailableWithoutFeed(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a feed, got %d", rec.Code)
	}
}

func TestRelayIngestPublishes(t *testing.T) {
	store := state.NewStore()
	relay := firehose.NewRelaySource(16, nil)
	defer relay.Close()
	srv := NewServer(store, correlate.New(nil), nil, relay)

	var mu sync.Mutex
	var got []string
	relay.Subscribe(func(ev types.RawEvent) {
		mu.Lock()
		got = append(got, ev.EventID)
		mu.Unlock()
	})

	body := `[{"event_id":"a","event_type":"chunk"},{"event_id":"b","event_type":"chunk"}]`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/relay/events", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("relay did not deliver ingested events: %v", got)
	}
}

func TestRelayIngestSingleEvent(t *testing.T) {
	store := state.NewStore()
	relay := firehose.NewRelaySource(16, nil)
	defer relay.Close()
	srv := NewServer(store, correlate.New(nil), nil, relay)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/relay/events", strings.NewReader(`{"event_id":"x","event_type":"chunk"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]int
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["published"] != 1 {
		t.Errorf("expected published=1, got %v", resp)
	}
}

func TestRelayIngestRejectsBadJSON(t *testing.T) {
	store := state.NewStore()
	relay := firehose.NewRelaySource(16, nil)
	defer relay.Close()
	srv := NewServer(store, correlate.New(nil), nil, relay)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/relay/events", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	select {
	case <-relay.Errors():
	case <-time.After(time.Second):
		t.Error("malformed ingest should surface on the relay error channel")
	}
}

func TestRelayIngestUnavailableWithoutRelay(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/relay/events", strings.NewReader(`{"event_id":"x"}`))
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a relay, got %d", rec.Code)
	}
}
