// internal/types/events.go
package types

import (
	"encoding/json"
	"time"
)

// EventKind classifies a canonical event.
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindToolCall   EventKind = "tool_call"
	KindToolResult EventKind = "tool_result"
	KindCheckpoint EventKind = "checkpoint"
)

// RawEvent is the wire shape delivered by a transport source. It is opaque
// to the store; the ingest boundary normalizes it into a CanonicalEvent.
type RawEvent struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
	Source    string          `json:"source,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	// OriginalTimestamp holds the transport stamp when the multiplexer
	// rewrote Timestamp to receipt time. Diagnostic only.
	OriginalTimestamp time.Time `json:"original_timestamp,omitzero"`
}

// Wire event types. The set is open-ended; unknown types are skipped at the
// normalization boundary.
const (
	WireChunk       = "chunk"
	WireToolCall    = "tool_call"
	WireToolResult  = "tool_result"
	WireAgentStatus = "agent_status"
	WireHeartbeat   = "heartbeat"
	WireCheckpoint  = "checkpoint"
)

// CheckpointData carries the payload of a checkpoint event.
type CheckpointData struct {
	Phase      string           `json:"phase,omitempty"`
	CommitHash string           `json:"commit_hash,omitempty"`
	Stats      map[string]int64 `json:"stats,omitempty"`
}

// CanonicalEvent is the normalized internal representation of any session
// activity. Kind decides which of the kind-specific fields are meaningful.
type CanonicalEvent struct {
	ID        EventID   `json:"id"`
	Kind      EventKind `json:"kind"`
	Role      string    `json:"role,omitempty"`
	SessionID SessionID `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Partial   bool      `json:"partial,omitempty"`
	Source    string    `json:"source,omitempty"`

	// OriginalAt preserves the transport timestamp when the multiplexer
	// rewrote CreatedAt to receipt time (stale or missing relay stamps).
	OriginalAt time.Time `json:"original_at,omitzero"`

	// Kind == message
	Content    string `json:"content,omitempty"`
	TokenCount int    `json:"token_count,omitempty"`

	// Kind == tool_call / tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// Kind == checkpoint
	Checkpoint *CheckpointData `json:"checkpoint,omitempty"`
}

// Merge shallow-merges non-zero fields of in onto e. ID, Kind, SessionID and
// CreatedAt are identity fields and never change, so a merged streaming
// update cannot reorder the event. Partial is always taken from the update:
// the final chunk of a streamed message flips it back to false.
func (e *CanonicalEvent) Merge(in *CanonicalEvent) {
	if in.Role != "" {
		e.Role = in.Role
	}
	if in.Source != "" {
		e.Source = in.Source
	}
	if !in.OriginalAt.IsZero() {
		e.OriginalAt = in.OriginalAt
	}
	if in.Content != "" {
		e.Content = in.Content
	}
	if in.TokenCount != 0 {
		e.TokenCount = in.TokenCount
	}
	if in.ToolUseID != "" {
		e.ToolUseID = in.ToolUseID
	}
	if in.ToolName != "" {
		e.ToolName = in.ToolName
	}
	if len(in.Args) > 0 {
		e.Args = in.Args
	}
	if in.Result != "" {
		e.Result = in.Result
	}
	if in.IsError {
		e.IsError = true
	}
	if in.Checkpoint != nil {
		e.Checkpoint = in.Checkpoint
	}
	e.Partial = in.Partial
}

// Clone returns a copy of e. Args is shared; callers treat payloads as
// immutable once an event enters the store.
func (e *CanonicalEvent) Clone() *CanonicalEvent {
	cp := *e
	if e.Checkpoint != nil {
		ckpt := *e.Checkpoint
		cp.Checkpoint = &ckpt
	}
	return &cp
}

// UnifiedToolCall is the call half of a tool interaction.
type UnifiedToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	EventID   EventID         `json:"event_id,omitempty"`
}

// UnifiedToolResult is the result half of a tool interaction.
type UnifiedToolResult struct {
	ToolCallID string    `json:"tool_call_id"`
	ToolName   string    `json:"tool_name"`
	Content    string    `json:"content,omitempty"`
	IsError    bool      `json:"is_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	EventID    EventID   `json:"event_id,omitempty"`
}

// ToolInteraction pairs one logical tool invocation with its (possibly
// absent or delayed) result. Exactly one exists per tool-use id regardless
// of how many duplicate envelopes were observed.
type ToolInteraction struct {
	ID     string             `json:"id"`
	Call   UnifiedToolCall    `json:"call"`
	Result *UnifiedToolResult `json:"result,omitempty"`
}

// ToolPair maps a tool-use id to the store ids of its call and result
// events. An entry with both slots empty is never retained.
type ToolPair struct {
	Call   EventID `json:"call,omitempty"`
	Result EventID `json:"result,omitempty"`
}
