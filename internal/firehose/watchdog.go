// internal/firehose/watchdog.go
package firehose

import (
	"context"
	"log/slog"
	"time"
)

// Watchdog marks the relay disconnected when its feed goes quiet. The relay
// has no connection of its own to observe, so liveness is inferred from
// event arrival: no event within the timeout means the feeder is gone.
type Watchdog struct {
	relay    *RelaySource
	timeout  time.Duration
	interval time.Duration
	log      *slog.Logger
}

// NewWatchdog builds a watchdog checking the relay every interval and
// cutting it off after timeout of silence.
func NewWatchdog(relay *RelaySource, timeout, interval time.Duration, log *slog.Logger) *Watchdog {
	if timeout <= 0 {
		timeout = time.Minute
	}
	if interval <= 0 {
		interval = timeout / 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{relay: relay, timeout: timeout, interval: interval, log: log}
}

// Run ticks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.check(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watchdog) check(now time.Time) {
	last := w.relay.LastSeen()
	if last.IsZero() {
		return
	}
	if now.Sub(last) > w.timeout && w.relay.IsConnected() {
		w.log.Info("relay feed quiet, marking disconnected", "last_seen", last)
		w.relay.SetConnected(false)
	}
}
