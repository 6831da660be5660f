// internal/firehose/stream.go
package firehose

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/firetail/internal/types"
)

// StreamSource is the primary firehose: an HTTP client reading a JSONL
// event stream. It reconnects with exponential backoff and pushes each
// parsed line to its subscribers from the read loop goroutine. Primary
// timestamps are trusted verbatim; the multiplexer never rewrites them.
type StreamSource struct {
	url     string
	client  *http.Client
	backoff *BackoffPolicy
	log     *slog.Logger

	mu      sync.Mutex
	subs    map[int]types.EventHandler
	status  map[int]func(bool)
	nextSub int

	connected atomic.Bool
}

// NewStreamSource creates a stream source for the given URL. A nil client
// falls back to a default with no overall timeout (the stream is
// long-lived).
func NewStreamSource(url string, client *http.Client, backoff *BackoffPolicy, log *slog.Logger) *StreamSource {
	if client == nil {
		client = &http.Client{}
	}
	if backoff == nil {
		backoff = DefaultBackoffPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &StreamSource{
		url:     url,
		client:  client,
		backoff: backoff,
		log:     log,
		subs:    make(map[int]types.EventHandler),
		status:  make(map[int]func(bool)),
	}
}

// Name implements types.Source.
func (s *StreamSource) Name() string { return "firehose" }

// Run connects and reads until ctx is cancelled, reconnecting with backoff
// after stream failures. A connection that delivered events resets the
// backoff counter.
func (s *StreamSource) Run(ctx context.Context) error {
	attempt := 0
	for {
		delivered, err := s.readStream(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered > 0 {
			attempt = 0
		}
		attempt++
		delay := s.backoff.NextDelay(attempt)
		s.log.Warn("stream disconnected, reconnecting",
			"url", s.url, "error", err, "attempt", attempt, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readStream performs one connection lifecycle and returns how many events
// it delivered. Malformed lines are logged and skipped.
func (s *StreamSource) readStream(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.New("unexpected status " + resp.Status)
	}

	s.setConnected(true)

	scanner := bufio.NewScanner(resp.Body)
	// Tool results can be large; raise the line cap well past the default.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	delivered := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.RawEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			s.log.Warn("skipping malformed stream line", "error", err)
			continue
		}
		s.dispatch(ev)
		delivered++
	}
	return delivered, scanner.Err()
}

func (s *StreamSource) dispatch(ev types.RawEvent) {
	s.mu.Lock()
	handlers := make([]types.EventHandler, 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Subscribe implements types.Source.
func (s *StreamSource) Subscribe(handler types.EventHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// OnStatusChange implements types.Source.
func (s *StreamSource) OnStatusChange(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.status[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.status, id)
	}
}

// IsConnected implements types.Source.
func (s *StreamSource) IsConnected() bool { return s.connected.Load() }

func (s *StreamSource) setConnected(up bool) {
	if s.connected.Swap(up) == up {
		return
	}
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.status))
	for _, fn := range s.status {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(up)
	}
}
