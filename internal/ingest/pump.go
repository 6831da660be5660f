// internal/ingest/pump.go
package ingest

import (
	"context"
	"log/slog"

	"github.com/user/firetail/internal/state"
	"github.com/user/firetail/internal/types"
)

// Pump subscribes to the merged feed and drives store upserts. Live events
// go through the dedup gate one at a time; historical catch-up goes through
// Hydrate, which collapses the whole batch into one state transition.
type Pump struct {
	source types.Source
	store  *state.Store
	norm   *Normalizer
	log    *slog.Logger
}

// NewPump wires a pump from the merged source into the store.
func NewPump(source types.Source, store *state.Store, norm *Normalizer, log *slog.Logger) *Pump {
	if log == nil {
		log = slog.Default()
	}
	return &Pump{source: source, store: store, norm: norm, log: log}
}

// handle processes one live event to completion.
func (p *Pump) handle(raw types.RawEvent) {
	ev, ok := p.norm.Normalize(raw)
	if !ok {
		return
	}
	// Streaming partial updates bypass the gate: they merge in place onto
	// an already-admitted event. Terminal envelopes are gated so duplicate
	// deliveries never reach the store.
	if !ev.Partial && !p.store.Admit(ev) {
		return
	}
	p.store.Upsert(ev)
}

// Run subscribes and blocks until ctx is cancelled, then unsubscribes.
func (p *Pump) Run(ctx context.Context) error {
	unsubscribe := p.source.Subscribe(p.handle)
	defer unsubscribe()
	p.log.Info("ingest pump running", "source", p.source.Name())
	<-ctx.Done()
	return ctx.Err()
}

// Hydrate replays a recorded batch of raw events into the store as one
// transition, bounding visible churn during catch-up. It needs no live
// source, so replay tooling calls it directly.
func Hydrate(store *state.Store, norm *Normalizer, raws []types.RawEvent) int {
	normalized := norm.NormalizeBatch(raws)
	admitted := make([]*types.CanonicalEvent, 0, len(normalized))
	for _, ev := range normalized {
		if !ev.Partial && !store.Admit(ev) {
			continue
		}
		admitted = append(admitted, ev)
	}
	store.UpsertBatch(admitted)
	return len(admitted)
}
