// internal/state/dedup.go
package state

import (
	"fmt"
	"hash/fnv"

	"github.com/user/firetail/internal/types"
)

const (
	// DefaultIDCacheCap bounds the (id, kind) dedup cache.
	DefaultIDCacheCap = 1000
	// DefaultContentCacheCap bounds the tool content-hash dedup cache.
	DefaultContentCacheCap = 500
)

// boundedSet is an insertion-ordered string set trimmed to its most recent
// half when it outgrows its cap.
type boundedSet struct {
	cap     int
	members map[string]struct{}
	recency []string
}

func newBoundedSet(cap int) *boundedSet {
	return &boundedSet{
		cap:     cap,
		members: make(map[string]struct{}, cap),
	}
}

func (b *boundedSet) has(key string) bool {
	_, ok := b.members[key]
	return ok
}

func (b *boundedSet) add(key string) {
	if _, ok := b.members[key]; ok {
		return
	}
	b.members[key] = struct{}{}
	b.recency = append(b.recency, key)
	if len(b.recency) > b.cap {
		keep := b.recency[len(b.recency)/2:]
		for _, old := range b.recency[:len(b.recency)/2] {
			delete(b.members, old)
		}
		b.recency = append(b.recency[:0], keep...)
	}
}

func (b *boundedSet) reset() {
	b.members = make(map[string]struct{}, b.cap)
	b.recency = b.recency[:0]
}

// Gate is the pre-upsert dedup gate. It rejects an event when the same
// (id, kind) was already accepted, or when a tool call/result with the same
// tool identity and core content was already accepted under a different
// envelope id. Both caches are bounded; the gate is owned by one Store and
// never shared, so independent stores cannot leak accepted-ids into each
// other.
type Gate struct {
	ids     *boundedSet
	content *boundedSet
}

// NewGate builds a gate with the given cache caps; zero or negative caps
// fall back to the defaults.
func NewGate(idCap, contentCap int) *Gate {
	if idCap <= 0 {
		idCap = DefaultIDCacheCap
	}
	if contentCap <= 0 {
		contentCap = DefaultContentCacheCap
	}
	return &Gate{
		ids:     newBoundedSet(idCap),
		content: newBoundedSet(contentCap),
	}
}

// contentKey hashes the identity-bearing content of a tool event, excluding
// volatile fields (timestamp, session), so a re-delivery under a fresh
// envelope id is still recognized.
func contentKey(ev *types.CanonicalEvent) string {
	h := fnv.New64a()
	h.Write([]byte(string(ev.Kind)))
	h.Write([]byte{0})
	h.Write([]byte(ev.ToolUseID))
	h.Write([]byte{0})
	h.Write([]byte(ev.ToolName))
	h.Write([]byte{0})
	if ev.Kind == types.KindToolCall {
		h.Write(ev.Args)
	} else {
		h.Write([]byte(ev.Result))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// Admit reports whether the event should proceed to upsert, recording it as
// accepted when it does. Duplicates are expected under at-least-once
// delivery and are not errors.
func (g *Gate) Admit(ev *types.CanonicalEvent) bool {
	idKey := string(ev.ID) + "|" + string(ev.Kind)
	if g.ids.has(idKey) {
		return false
	}

	toolShaped := (ev.Kind == types.KindToolCall || ev.Kind == types.KindToolResult) && ev.ToolUseID != ""
	var ck string
	if toolShaped {
		ck = contentKey(ev)
		if g.content.has(ck) {
			return false
		}
	}

	g.ids.add(idKey)
	if toolShaped {
		g.content.add(ck)
	}
	return true
}

// Reset empties both caches. Called on store clear.
func (g *Gate) Reset() {
	g.ids.reset()
	g.content.reset()
}
