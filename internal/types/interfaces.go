// internal/types/interfaces.go
package types

// EventHandler receives one raw event pushed by a transport source.
type EventHandler func(RawEvent)

// Source is a push-delivered event feed. Subscribe registers a handler and
// returns an idempotent unsubscribe handle. Implementations must not call
// handlers concurrently with each other; delivery is serialized per source.
type Source interface {
	Name() string
	Subscribe(handler EventHandler) (unsubscribe func())
	IsConnected() bool
	OnStatusChange(fn func(connected bool)) (detach func())
}

// ErrorSource is a Source that additionally surfaces transport errors out
// of band. The relay source implements it.
type ErrorSource interface {
	Source
	Errors() <-chan error
}

// EventWriter is the mutation surface of the canonical event store. All
// state changes flow through these four operations.
type EventWriter interface {
	Upsert(event *CanonicalEvent)
	UpsertBatch(events []*CanonicalEvent)
	Remove(id EventID)
	Clear()
}
