// internal/firehose/mux.go
package firehose

import (
	"log/slog"
	"sync"
	"time"

	"github.com/user/firetail/internal/types"
)

// DefaultDedupCap bounds the multiplexer's seen-id set. On overflow the set
// is trimmed to its most recent half, so a long-lived session cannot grow
// it without bound.
const DefaultDedupCap = 2048

// DefaultStaleness is the age beyond which a relay timestamp is treated as
// buffered replay and rewritten to receipt time.
const DefaultStaleness = 30 * time.Second

// MuxConfig tunes a Multiplexer.
type MuxConfig struct {
	DedupCap int
	// SuppressRelayHeartbeats drops every heartbeat from the secondary
	// source outright; relay liveness is already observable through its
	// status channel, not through event content.
	SuppressRelayHeartbeats bool
	Staleness               time.Duration
	Logger                  *slog.Logger

	// now is injected by tests.
	now func() time.Time
}

func (c *MuxConfig) defaults() {
	if c.DedupCap <= 0 {
		c.DedupCap = DefaultDedupCap
	}
	if c.Staleness <= 0 {
		c.Staleness = DefaultStaleness
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// Status reports per-source connectivity.
type Status struct {
	Primary   bool `json:"primary"`
	Secondary bool `json:"secondary"`
}

// Multiplexer merges a primary and a secondary push-event source into one
// logical feed. The first source to deliver a given event id wins; later
// duplicates are dropped. The multiplexer is itself a Source, so downstream
// code cannot tell it apart from a single transport.
type Multiplexer struct {
	cfg       MuxConfig
	primary   types.Source
	secondary types.ErrorSource
	log       *slog.Logger

	// dispatchMu serializes delivery: both sources push from their own
	// goroutines, but handlers only ever run one at a time.
	dispatchMu sync.Mutex
	seen       *seenSet

	mu            sync.Mutex
	subs          map[int]types.EventHandler
	statusSubs    map[int]func(bool)
	nextSub       int
	detachSources []func()
	closed        bool

	errs chan error
	done chan struct{}
}

// NewMultiplexer wires the two sources together. Delivery begins
// immediately: both sources are subscribed and their status channels
// attached before NewMultiplexer returns.
func NewMultiplexer(primary types.Source, secondary types.ErrorSource, cfg MuxConfig) *Multiplexer {
	cfg.defaults()
	m := &Multiplexer{
		cfg:        cfg,
		primary:    primary,
		secondary:  secondary,
		log:        cfg.Logger,
		seen:       newSeenSet(cfg.DedupCap),
		subs:       make(map[int]types.EventHandler),
		statusSubs: make(map[int]func(bool)),
		errs:       make(chan error, 16),
		done:       make(chan struct{}),
	}

	m.detachSources = append(m.detachSources,
		primary.Subscribe(m.handlerFor(primary.Name(), true)),
		secondary.Subscribe(m.handlerFor(secondary.Name(), false)),
		primary.OnStatusChange(m.fanOutStatus),
		secondary.OnStatusChange(m.fanOutStatus),
	)

	go m.forwardErrors()
	return m
}

// Name implements types.Source.
func (m *Multiplexer) Name() string { return "mux" }

// handlerFor builds the per-source delivery callback. Deduplication,
// heartbeat suppression and the relay timestamp policy all happen here,
// under the dispatch lock, so downstream handlers observe one serialized
// feed.
func (m *Multiplexer) handlerFor(source string, primary bool) types.EventHandler {
	return func(ev types.RawEvent) {
		m.dispatchMu.Lock()
		defer m.dispatchMu.Unlock()

		if !primary && m.cfg.SuppressRelayHeartbeats && ev.EventType == types.WireHeartbeat {
			return
		}
		if ev.EventID != "" {
			if m.seen.has(ev.EventID) {
				return
			}
			m.seen.add(ev.EventID)
		}

		// First source to deliver wins the tag.
		ev.Source = source

		if !primary {
			now := m.cfg.now()
			if ev.Timestamp.IsZero() || now.Sub(ev.Timestamp) > m.cfg.Staleness {
				ev.OriginalTimestamp = ev.Timestamp
				ev.Timestamp = now
			}
		}

		m.mu.Lock()
		handlers := make([]types.EventHandler, 0, len(m.subs))
		for _, h := range m.subs {
			handlers = append(handlers, h)
		}
		m.mu.Unlock()

		for _, h := range handlers {
			h(ev)
		}
	}
}

// forwardErrors passes secondary-source errors through verbatim, without
// transformation.
func (m *Multiplexer) forwardErrors() {
	for {
		select {
		case err, ok := <-m.secondary.Errors():
			if !ok {
				return
			}
			select {
			case m.errs <- err:
			default:
				m.log.Warn("dropping relay error, error channel full", "error", err)
			}
		case <-m.done:
			return
		}
	}
}

func (m *Multiplexer) fanOutStatus(bool) {
	connected := m.IsConnected()
	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.statusSubs))
	for _, fn := range m.statusSubs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// Subscribe registers a handler on the merged feed. The returned handle is
// idempotent.
func (m *Multiplexer) Subscribe(handler types.EventHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// OnStatusChange registers a listener for combined connectivity changes.
func (m *Multiplexer) OnStatusChange(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.statusSubs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.statusSubs, id)
	}
}

// IsConnected reports whether either source is up. One source going down
// does not interrupt delivery from the other.
func (m *Multiplexer) IsConnected() bool {
	return m.primary.IsConnected() || m.secondary.IsConnected()
}

// Status returns per-source connectivity.
func (m *Multiplexer) Status() Status {
	return Status{
		Primary:   m.primary.IsConnected(),
		Secondary: m.secondary.IsConnected(),
	}
}

// Errors surfaces secondary-source errors.
func (m *Multiplexer) Errors() <-chan error { return m.errs }

// Close unsubscribes from both sources and detaches the status listeners.
// An event already handed to a handler completes its delivery. Idempotent.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	detach := m.detachSources
	m.detachSources = nil
	m.subs = make(map[int]types.EventHandler)
	m.statusSubs = make(map[int]func(bool))
	m.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	close(m.done)
}

// seenSet is a recency-capped id set: overflow trims the oldest half.
type seenSet struct {
	cap     int
	members map[string]struct{}
	recency []string
}

func newSeenSet(cap int) *seenSet {
	return &seenSet{cap: cap, members: make(map[string]struct{}, cap)}
}

func (s *seenSet) has(id string) bool {
	_, ok := s.members[id]
	return ok
}

func (s *seenSet) add(id string) {
	if _, ok := s.members[id]; ok {
		return
	}
	s.members[id] = struct{}{}
	s.recency = append(s.recency, id)
	if len(s.recency) > s.cap {
		keep := s.recency[len(s.recency)/2:]
		for _, old := range s.recency[:len(s.recency)/2] {
			delete(s.members, old)
		}
		s.recency = append(s.recency[:0], keep...)
	}
}
