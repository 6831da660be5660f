// internal/firehose/backoff.go
package firehose

import (
	"math"
	"time"
)

// BackoffPolicy controls reconnect pacing for the stream source.
type BackoffPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultBackoffPolicy returns the reconnect defaults: 1s initial delay,
// 2x multiplier, 30s cap.
func DefaultBackoffPolicy() *BackoffPolicy {
	return &BackoffPolicy{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// NextDelay returns the backoff delay for the given attempt number
// (1-indexed): InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *BackoffPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}
