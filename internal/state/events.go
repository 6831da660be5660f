// internal/state/events.go
package state

import (
	"sort"

	"github.com/user/firetail/internal/types"
)

// EventState is the aggregate holding all normalized events and their
// indices. Invariants:
//
//   - every id in order and bySession exists in byID
//   - order and each bySession slice are non-decreasing by CreatedAt,
//     ties preserved in arrival order
//   - toolIx never holds an entry with both slots empty
//
// EventState has no locking of its own; a Store owns exactly one value and
// serializes every transition.
type EventState struct {
	byID      map[types.EventID]*types.CanonicalEvent
	order     []types.EventID
	bySession map[types.SessionID][]types.EventID
	toolIx    map[string]types.ToolPair
	resume    types.EventID
}

// NewEventState returns an empty aggregate. The state has process-wide
// lifetime; its owner resets it via clear, there is no implicit teardown.
func NewEventState() *EventState {
	return &EventState{
		byID:      make(map[types.EventID]*types.CanonicalEvent),
		order:     make([]types.EventID, 0),
		bySession: make(map[types.SessionID][]types.EventID),
		toolIx:    make(map[string]types.ToolPair),
	}
}

// insertChronological inserts id into seq at the position that keeps seq
// non-decreasing by CreatedAt. Equal timestamps land after the existing run
// of equals, so arrival order is preserved for ties.
func (s *EventState) insertChronological(seq []types.EventID, id types.EventID) []types.EventID {
	at := s.byID[id].CreatedAt
	i := sort.Search(len(seq), func(i int) bool {
		ev, ok := s.byID[seq[i]]
		if !ok {
			return false
		}
		return ev.CreatedAt.After(at)
	})
	seq = append(seq, "")
	copy(seq[i+1:], seq[i:])
	seq[i] = id
	return seq
}

func removeID(seq []types.EventID, id types.EventID) []types.EventID {
	for i, v := range seq {
		if v == id {
			return append(seq[:i], seq[i+1:]...)
		}
	}
	return seq
}

// upsert applies one event. A new id is inserted chronologically into order
// and its session index; an existing id is shallow-merged in place so
// streaming content growth never reorders the event. The tool correlation
// index and the resume watermark are updated last.
func (s *EventState) upsert(event *types.CanonicalEvent) {
	if stored, ok := s.byID[event.ID]; ok {
		stored.Merge(event)
		s.indexTool(stored)
		s.resume = stored.ID
		return
	}

	ev := event.Clone()
	s.byID[ev.ID] = ev
	s.order = s.insertChronological(s.order, ev.ID)
	if ev.SessionID != "" {
		s.bySession[ev.SessionID] = s.insertChronological(s.bySession[ev.SessionID], ev.ID)
	}
	s.indexTool(ev)
	s.resume = ev.ID
}

// indexTool records the call or result slot for events carrying a
// tool-invocation identifier. Field-name aliases are resolved at the
// transport boundary; by the time an event is here, ToolUseID is the only
// spelling.
func (s *EventState) indexTool(ev *types.CanonicalEvent) {
	if ev.ToolUseID == "" {
		return
	}
	pair := s.toolIx[ev.ToolUseID]
	switch ev.Kind {
	case types.KindToolCall:
		pair.Call = ev.ID
	case types.KindToolResult:
		pair.Result = ev.ID
	default:
		return
	}
	s.toolIx[ev.ToolUseID] = pair
}

// remove deletes the event and every reference to it. The session index
// entry disappears when its last event goes; a toolIx entry disappears once
// both slots are empty.
func (s *EventState) remove(id types.EventID) {
	ev, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	s.order = removeID(s.order, id)

	if ev.SessionID != "" {
		seq := removeID(s.bySession[ev.SessionID], id)
		if len(seq) == 0 {
			delete(s.bySession, ev.SessionID)
		} else {
			s.bySession[ev.SessionID] = seq
		}
	}

	if ev.ToolUseID != "" {
		if pair, ok := s.toolIx[ev.ToolUseID]; ok {
			if pair.Call == id {
				pair.Call = ""
			}
			if pair.Result == id {
				pair.Result = ""
			}
			if pair.Call == "" && pair.Result == "" {
				delete(s.toolIx, ev.ToolUseID)
			} else {
				s.toolIx[ev.ToolUseID] = pair
			}
		}
	}
}

// clear resets every index to empty and the resume watermark to "".
func (s *EventState) clear() {
	s.byID = make(map[types.EventID]*types.CanonicalEvent)
	s.order = s.order[:0]
	s.bySession = make(map[types.SessionID][]types.EventID)
	s.toolIx = make(map[string]types.ToolPair)
	s.resume = ""
}
