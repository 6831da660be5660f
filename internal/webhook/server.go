// internal/webhook/server.go

// Package webhook exposes the reconciled session view over HTTP and hosts
// the relay ingest endpoint. It is a pure consumer of the store's selectors
// and the correlator's output; rendering belongs to the clients.
package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/firetail/internal/correlate"
	"github.com/user/firetail/internal/firehose"
	"github.com/user/firetail/internal/state"
	"github.com/user/firetail/internal/types"
)

// Server is a lightweight HTTP handler for the read API and relay ingest.
type Server struct {
	store      *state.Store
	correlator *correlate.Correlator
	feed       *firehose.Multiplexer
	relay      *firehose.RelaySource
	mux        *http.ServeMux
}

// NewServer wires the read API over the given store and correlator. feed
// and relay may be nil in replay tooling; the corresponding endpoints then
// report unavailable.
func NewServer(store *state.Store, correlator *correlate.Correlator, feed *firehose.Multiplexer, relay *firehose.RelaySource) *Server {
	s := &Server{
		store:      store,
		correlator: correlator,
		feed:       feed,
		relay:      relay,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	s.mux.HandleFunc("GET /api/sessions/{id}/interactions", s.handleSessionInteractions)
	s.mux.HandleFunc("POST /relay/events", s.handleRelayIngest)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		http.Error(w, `{"error":"no live feed configured"}`, http.StatusServiceUnavailable)
		return
	}
	st := s.feed.Status()
	writeJSON(w, map[string]any{
		"connected": s.feed.IsConnected(),
		"primary":   st.Primary,
		"secondary": st.Secondary,
		"resume":    s.store.Resume(),
	})
}

type sessionResponse struct {
	SessionID  string `json:"session_id"`
	EventCount int    `json:"event_count"`
	TokenCount int    `json:"token_count"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.store.SessionIDs()
	result := make([]sessionResponse, 0, len(ids))
	for _, id := range ids {
		result = append(result, sessionResponse{
			SessionID:  string(id),
			EventCount: s.store.SessionCount(id),
			TokenCount: s.store.SessionTokenCount(id),
		})
	}
	writeJSON(w, result)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := types.SessionID(r.PathValue("id"))
	events := s.store.SessionEvents(sessionID)

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	writeJSON(w, events)
}

func (s *Server) handleSessionInteractions(w http.ResponseWriter, r *http.Request) {
	sessionID := types.SessionID(r.PathValue("id"))
	items := s.correlator.PairToolEvents(s.store.SessionEvents(sessionID))
	writeJSON(w, items)
}

// handleRelayIngest accepts one raw event or an array of them and publishes
// to the relay source. Malformed bodies are surfaced on the relay's error
// channel as well as the response.
func (s *Server) handleRelayIngest(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		http.Error(w, `{"error":"relay not configured"}`, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"read body"}`, http.StatusBadRequest)
		return
	}

	var batch []types.RawEvent
	if err := json.Unmarshal(body, &batch); err != nil {
		// Retry as a single event.
		var single types.RawEvent
		if err := json.Unmarshal(body, &single); err != nil {
			s.relay.Fail(fmt.Errorf("relay ingest: undecodable body: %w", err))
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		batch = []types.RawEvent{single}
	}

	published := 0
	for _, ev := range batch {
		if s.relay.Publish(ev) {
			published++
		}
	}
	if published < len(batch) {
		slog.Warn("relay ingest dropped events", "published", published, "total", len(batch))
	}
	writeJSON(w, map[string]int{"published": published})
}
