// Package state holds the canonical, replay-safe aggregate of normalized
// session events: a chronologically ordered, session-indexed store that
// tolerates at-least-once delivery.
package state

import "github.com/user/firetail/internal/types"

// Compile-time interface compliance checks.
var _ types.EventWriter = (*Store)(nil)
