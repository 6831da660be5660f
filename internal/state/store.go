// internal/state/store.go
package state

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/user/firetail/internal/types"
)

// Store owns one EventState and one dedup Gate and serializes every
// mutation: an action runs to completion before the next begins, so readers
// never observe a partially applied transition. Push callbacks from both
// transport sources funnel into this single entry point.
type Store struct {
	mu    sync.RWMutex
	state *EventState
	gate  *Gate
	log   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithGate injects a dedup gate with specific cache caps.
func WithGate(g *Gate) Option {
	return func(s *Store) { s.gate = g }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates an empty store with its own gate. Stores are independent;
// nothing is shared process-wide.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: NewEventState(),
		gate:  NewGate(DefaultIDCacheCap, DefaultContentCacheCap),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admit runs the pre-upsert dedup gate. Callers gate terminal envelopes
// before Upsert; streaming partial updates bypass the gate so in-place
// content merges stay reachable.
func (s *Store) Admit(ev *types.CanonicalEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.Admit(ev)
}

// Upsert applies one event as a single transition.
func (s *Store) Upsert(event *types.CanonicalEvent) {
	if event == nil || event.ID == "" || event.Kind == "" {
		s.log.Warn("skipping malformed event", "event", event)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.upsert(event)
}

// UpsertBatch applies a historical/catch-up batch as one transition,
// collapsing N events into one visible state change.
func (s *Store) UpsertBatch(events []*types.CanonicalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if ev == nil || ev.ID == "" || ev.Kind == "" {
			s.log.Warn("skipping malformed event in batch", "event", ev)
			continue
		}
		s.state.upsert(ev)
	}
}

// Remove deletes the event with the given id and every reference to it.
// Removing an unknown id is a no-op.
func (s *Store) Remove(id types.EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.remove(id)
}

// Clear resets all indices and the dedup caches.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.clear()
	s.gate.Reset()
}

// eventsFor resolves an id sequence against byID, defensively filtering ids
// with no backing event rather than failing the read. Results are clones:
// a streaming merge mutates stored events in place, so handing out the
// stored pointers would race with readers outside the lock.
func (s *Store) eventsFor(seq []types.EventID) []*types.CanonicalEvent {
	out := make([]*types.CanonicalEvent, 0, len(seq))
	for _, id := range seq {
		if ev, ok := s.state.byID[id]; ok {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// AllEvents returns every stored event in chronological order.
func (s *Store) AllEvents() []*types.CanonicalEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventsFor(s.state.order)
}

// Event returns a copy of the event with the given id.
func (s *Store) Event(id types.EventID) (*types.CanonicalEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.state.byID[id]
	if !ok {
		return nil, false
	}
	return ev.Clone(), true
}

// SessionEvents returns the session's events in chronological order.
func (s *Store) SessionEvents(id types.SessionID) []*types.CanonicalEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventsFor(s.state.bySession[id])
}

// SessionIDs returns all session ids with at least one event, sorted for
// stable output.
func (s *Store) SessionIDs() []types.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.SessionID, 0, len(s.state.bySession))
	for id := range s.state.bySession {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SessionCount returns the number of events recorded for the session.
func (s *Store) SessionCount(id types.SessionID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.bySession[id])
}

// SessionTokenCount sums the token counts of the session's message events.
func (s *Store) SessionTokenCount(id types.SessionID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, evID := range s.state.bySession[id] {
		if ev, ok := s.state.byID[evID]; ok && ev.Kind == types.KindMessage {
			total += ev.TokenCount
		}
	}
	return total
}

// ToolPair returns copies of the call and result events recorded for a
// tool-use id. Either may be nil while its half has not arrived.
func (s *Store) ToolPair(toolUseID string) (call, result *types.CanonicalEvent, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pair, found := s.state.toolIx[toolUseID]
	if !found {
		return nil, nil, false
	}
	if pair.Call != "" {
		if ev, ok := s.state.byID[pair.Call]; ok {
			call = ev.Clone()
		}
	}
	if pair.Result != "" {
		if ev, ok := s.state.byID[pair.Result]; ok {
			result = ev.Clone()
		}
	}
	return call, result, true
}

// OrphanedToolCalls returns, chronologically, the tool calls whose result
// has not arrived yet.
func (s *Store) OrphanedToolCalls() []*types.CanonicalEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.CanonicalEvent, 0)
	for _, id := range s.state.order {
		ev, ok := s.state.byID[id]
		if !ok || ev.Kind != types.KindToolCall || ev.ToolUseID == "" {
			continue
		}
		if pair, found := s.state.toolIx[ev.ToolUseID]; found && pair.Result == "" {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// Len returns the total number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.byID)
}

// Resume returns the last-processed event id, a monotonic watermark for
// catch-up and pagination. Empty after init or clear.
func (s *Store) Resume() types.EventID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.resume
}
