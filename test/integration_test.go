//go:build integration

package test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/firetail/internal/correlate"
	"github.com/user/firetail/internal/firehose"
	"github.com/user/firetail/internal/ingest"
	"github.com/user/firetail/internal/state"
	"github.com/user/firetail/internal/types"
	"github.com/user/firetail/internal/webhook"
)

func rawEvent(t *testing.T, id, session, eventType string, data map[string]any) types.RawEvent {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	return types.RawEvent{
		EventID:   id,
		SessionID: session,
		EventType: eventType,
		Timestamp: time.Now(),
		Data:      payload,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// TestPipelineEndToEnd runs the full path: an NDJSON upstream plus relayed
// duplicates, merged, normalized, stored, and read back through the HTTP API.
func TestPipelineEndToEnd(t *testing.T) {
	session := "sess-1"
	streamed := []types.RawEvent{
		rawEvent(t, "e1", session, types.WireChunk, map[string]any{"role": "user", "text": "find me something"}),
		rawEvent(t, "e2", session, types.WireToolCall, map[string]any{"tool_use_id": "tu-1", "tool": "search", "arguments": map[string]any{"q": "go"}}),
		rawEvent(t, "e3", session, types.WireToolResult, map[string]any{"tool_use_id": "tu-1", "result": "3 hits"}),
		rawEvent(t, "hb", session, types.WireHeartbeat, nil),
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for _, ev := range streamed {
			if err := enc.Encode(ev); err != nil {
				return
			}
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Hold the stream open so the source does not reconnect mid-test.
		<-r.Context().Done()
	}))
	defer upstream.Close()

	store := state.NewStore()
	primary := firehose.NewStreamSource(upstream.URL, upstream.Client(), firehose.DefaultBackoffPolicy(), nil)
	relay := firehose.NewRelaySource(16, nil)
	defer relay.Close()
	feed := firehose.NewMultiplexer(primary, relay, firehose.MuxConfig{})
	defer feed.Close()
	pump := ingest.NewPump(feed, store, ingest.NewNormalizer(nil, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go primary.Run(ctx)
	go pump.Run(ctx)

	// Heartbeat is dropped at normalization, so three events land.
	waitFor(t, "streamed events", func() bool { return store.Len() == 3 })

	// Redeliver the tool result through the relay, then a new message. The
	// duplicate must be absorbed; the new message must land.
	dup := streamed[2]
	dup.Timestamp = time.Now()
	relay.Publish(dup)
	relay.Publish(rawEvent(t, "e4", session, types.WireChunk, map[string]any{"role": "assistant", "text": "here you go"}))

	waitFor(t, "relayed event", func() bool { return store.Len() == 4 })
	if !feed.IsConnected() {
		t.Error("feed should report connected")
	}

	api := httptest.NewServer(webhook.NewServer(store, correlate.New(nil), feed, relay))
	defer api.Close()

	var sessions []struct {
		SessionID  string `json:"session_id"`
		EventCount int    `json:"event_count"`
	}
	getJSON(t, api.URL+"/api/sessions", &sessions)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].EventCount != 4 {
		t.Errorf("expected 4 events, got %d", sessions[0].EventCount)
	}

	var items []correlate.Item
	getJSON(t, api.URL+"/api/sessions/"+session+"/interactions", &items)
	if len(items) != 3 {
		t.Fatalf("expected 2 messages and 1 interaction, got %d items", len(items))
	}
	var interactions int
	for _, item := range items {
		if item.Interaction == nil {
			continue
		}
		interactions++
		if item.Interaction.Call.Name != "search" {
			t.Errorf("expected call name search, got %q", item.Interaction.Call.Name)
		}
		if item.Interaction.Result == nil {
			t.Error("interaction is missing its result")
		} else if item.Interaction.Result.Content != "3 hits" {
			t.Errorf("expected result '3 hits', got %q", item.Interaction.Result.Content)
		}
	}
	if interactions != 1 {
		t.Errorf("expected exactly 1 interaction, got %d", interactions)
	}
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}
