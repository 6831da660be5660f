// internal/firehose/relay.go
package firehose

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/firetail/internal/types"
)

// RelaySource is the secondary, in-process event source. Events published
// into it (typically by the relay ingest endpoint) are delivered to
// subscribers by a single pump goroutine, so delivery is serialized. It
// exposes an error channel for transport-level failures reported by its
// feeder.
type RelaySource struct {
	log *slog.Logger

	mu      sync.Mutex
	subs    map[int]types.EventHandler
	status  map[int]func(bool)
	nextSub int

	connected atomic.Bool
	lastSeen  atomic.Int64 // unix nanos of the last published event

	events  chan types.RawEvent
	errs    chan error
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewRelaySource creates a relay with the given delivery buffer. The relay
// starts disconnected; it is marked alive by its first published event.
func NewRelaySource(buffer int, log *slog.Logger) *RelaySource {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	r := &RelaySource{
		log:    log,
		subs:   make(map[int]types.EventHandler),
		status: make(map[int]func(bool)),
		events: make(chan types.RawEvent, buffer),
		errs:   make(chan error, 16),
		stop:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.pump()
	return r
}

// Name implements types.Source.
func (r *RelaySource) Name() string { return "relay" }

// Publish hands an event to the relay. Returns false when the delivery
// buffer is full; the event is dropped rather than blocking the caller.
func (r *RelaySource) Publish(ev types.RawEvent) bool {
	r.lastSeen.Store(time.Now().UnixNano())
	r.SetConnected(true)
	select {
	case r.events <- ev:
		return true
	default:
		r.log.Warn("relay buffer full, dropping event", "event_id", ev.EventID)
		return false
	}
}

// Fail reports a transport error on the relay's error channel. Non-blocking.
func (r *RelaySource) Fail(err error) {
	select {
	case r.errs <- err:
	default:
		r.log.Warn("relay error channel full, dropping error", "error", err)
	}
}

func (r *RelaySource) pump() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.events:
			r.mu.Lock()
			handlers := make([]types.EventHandler, 0, len(r.subs))
			for _, h := range r.subs {
				handlers = append(handlers, h)
			}
			r.mu.Unlock()
			for _, h := range handlers {
				h(ev)
			}
		case <-r.stop:
			return
		}
	}
}

// Subscribe implements types.Source.
func (r *RelaySource) Subscribe(handler types.EventHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// OnStatusChange implements types.Source.
func (r *RelaySource) OnStatusChange(fn func(bool)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.status[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.status, id)
	}
}

// IsConnected implements types.Source.
func (r *RelaySource) IsConnected() bool { return r.connected.Load() }

// SetConnected flips the relay's liveness and notifies status listeners on
// change. The heartbeat watchdog calls this when the feed goes quiet.
func (r *RelaySource) SetConnected(up bool) {
	if r.connected.Swap(up) == up {
		return
	}
	r.mu.Lock()
	fns := make([]func(bool), 0, len(r.status))
	for _, fn := range r.status {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(up)
	}
}

// LastSeen returns when the relay last received an event, or the zero time.
func (r *RelaySource) LastSeen() time.Time {
	n := r.lastSeen.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Errors implements types.ErrorSource.
func (r *RelaySource) Errors() <-chan error { return r.errs }

// Close stops the pump. Buffered but undelivered events are dropped.
func (r *RelaySource) Close() {
	r.stopped.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
	r.SetConnected(false)
}
