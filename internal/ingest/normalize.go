// internal/ingest/normalize.go

// Package ingest is the normalization boundary between raw transport
// events and the canonical store: it resolves wire field aliases exactly
// once, converts HTML message payloads to markdown, annotates messages with
// token counts, and pumps the multiplexed feed into the store.
package ingest

import (
	"encoding/json"
	"log/slog"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/firetail/internal/tokens"
	"github.com/user/firetail/internal/types"
)

// toolIDAliases are the legacy wire spellings of the tool-invocation
// identifier. They are resolved here and nowhere else; internal logic only
// ever sees ToolUseID.
var toolIDAliases = []string{"tool_use_id", "toolUseId", "toolCallId", "tool_call_id", "call_id"}

// Normalizer turns RawEvents into CanonicalEvents.
type Normalizer struct {
	counter *tokens.Counter // nil disables token counting
	log     *slog.Logger
	now     func() time.Time
}

// NewNormalizer creates a normalizer. counter may be nil.
func NewNormalizer(counter *tokens.Counter, log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{counter: counter, log: log, now: time.Now}
}

// payload is the open-ended decoded form of RawEvent.Data.
type payload map[string]any

func (p payload) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := p[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (p payload) boolean(keys ...string) bool {
	for _, k := range keys {
		if v, ok := p[k].(bool); ok {
			return v
		}
	}
	return false
}

func (p payload) toolUseID() string {
	return p.str(toolIDAliases...)
}

// Normalize converts one raw event. ok is false for event types that never
// reach the store (heartbeats, agent status, unknown types) and for
// malformed events, which are logged and skipped.
func (n *Normalizer) Normalize(raw types.RawEvent) (*types.CanonicalEvent, bool) {
	switch raw.EventType {
	case types.WireHeartbeat, types.WireAgentStatus:
		return nil, false
	case types.WireChunk, types.WireToolCall, types.WireToolResult, types.WireCheckpoint:
	default:
		n.log.Debug("skipping unknown event type", "event_type", raw.EventType)
		return nil, false
	}

	var data payload
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			n.log.Warn("skipping event with undecodable payload", "event_id", raw.EventID, "error", err)
			return nil, false
		}
	}

	id := types.EventID(raw.EventID)
	if id == "" {
		id = types.NewEventID()
	}
	createdAt := raw.Timestamp
	if createdAt.IsZero() {
		createdAt = n.now()
	}

	ev := &types.CanonicalEvent{
		ID:         id,
		SessionID:  types.SessionID(raw.SessionID),
		CreatedAt:  createdAt,
		OriginalAt: raw.OriginalTimestamp,
		Source:     raw.Source,
	}

	switch raw.EventType {
	case types.WireChunk:
		ev.Kind = types.KindMessage
		ev.Role = data.str("role")
		if ev.Role == "" {
			ev.Role = "assistant"
		}
		ev.Partial = data.boolean("partial")
		ev.Content = n.messageContent(data)
		if n.counter != nil && ev.Content != "" {
			ev.TokenCount = n.counter.Count(ev.Content)
		}

	case types.WireToolCall:
		ev.Kind = types.KindToolCall
		ev.Role = "assistant"
		ev.ToolUseID = data.toolUseID()
		if ev.ToolUseID == "" {
			n.log.Warn("skipping tool call with no invocation id", "event_id", raw.EventID)
			return nil, false
		}
		ev.ToolName = data.str("tool", "name")
		if args, ok := data["arguments"]; ok {
			ev.Args, _ = json.Marshal(args)
		} else if args, ok := data["args"]; ok {
			ev.Args, _ = json.Marshal(args)
		}

	case types.WireToolResult:
		ev.Kind = types.KindToolResult
		ev.Role = "tool"
		ev.ToolUseID = data.toolUseID()
		if ev.ToolUseID == "" {
			n.log.Warn("skipping tool result with no invocation id", "event_id", raw.EventID)
			return nil, false
		}
		ev.ToolName = data.str("tool", "name")
		ev.Result = data.str("result", "content", "output")
		ev.IsError = data.boolean("is_error", "isError")

	case types.WireCheckpoint:
		ev.Kind = types.KindCheckpoint
		ev.Checkpoint = &types.CheckpointData{
			Phase:      data.str("phase"),
			CommitHash: data.str("commit_hash", "commitHash"),
		}
		if stats, ok := data["stats"].(map[string]any); ok {
			ev.Checkpoint.Stats = make(map[string]int64, len(stats))
			for k, v := range stats {
				if f, ok := v.(float64); ok {
					ev.Checkpoint.Stats[k] = int64(f)
				}
			}
		}
	}

	return ev, true
}

// messageContent extracts message text, converting HTML payloads to
// markdown. Conversion failure falls back to the raw text rather than
// dropping the message.
func (n *Normalizer) messageContent(data payload) string {
	html := data.str("html")
	if html == "" && data.str("format") == "html" {
		html = data.str("text", "content")
	}
	if html != "" {
		md, err := htmltomarkdown.ConvertString(html)
		if err != nil {
			n.log.Warn("html conversion failed, keeping raw content", "error", err)
			return html
		}
		return md
	}
	return data.str("text", "content")
}

// NormalizeBatch converts a historical batch, dropping skipped events.
func (n *Normalizer) NormalizeBatch(raws []types.RawEvent) []*types.CanonicalEvent {
	out := make([]*types.CanonicalEvent, 0, len(raws))
	for _, raw := range raws {
		if ev, ok := n.Normalize(raw); ok {
			out = append(out, ev)
		}
	}
	return out
}
