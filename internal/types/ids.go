// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type EventID string

// NewEventID mints an id for events that arrive without one.
func NewEventID() EventID {
	return EventID(uuid.New().String())
}
