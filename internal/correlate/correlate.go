// internal/correlate/correlate.go

// Package correlate folds chronologically ordered canonical events into
// render-ready items, pairing each tool call with its asynchronously
// arriving result. Results may arrive before their calls, duplicated, or
// spanning multiple messages; the fold guarantees at most one interaction
// per logical tool invocation.
package correlate

import (
	"log/slog"
	"sort"
	"time"

	"github.com/user/firetail/internal/types"
)

// ThinkToolName is the reflective self-talk tool. Its calls and results are
// never folded into interactions; they pass through as standalone events.
const ThinkToolName = "think"

// Item is one element of correlator output: either a standalone event or a
// paired tool interaction, never both.
type Item struct {
	Event       *types.CanonicalEvent  `json:"event,omitempty"`
	Interaction *types.ToolInteraction `json:"tool_interaction,omitempty"`
}

// createdAt is the ordering key used to restore narrative order. An
// interaction sorts by its call's creation time.
func (it Item) createdAt() time.Time {
	if it.Event != nil {
		return it.Event.CreatedAt
	}
	return it.Interaction.Call.CreatedAt
}

// Correlator pairs tool calls with their results. The zero value is not
// usable; construct with New.
type Correlator struct {
	log *slog.Logger
}

// New creates a Correlator logging through the given logger; nil means the
// default logger.
func New(log *slog.Logger) *Correlator {
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{log: log}
}

// PairToolEvents consumes a flat, chronologically ordered event list and
// returns standalone events interleaved with unified tool interactions,
// re-sorted by creation time. Duplicate envelopes collapse to one item;
// malformed events are logged and skipped, never aborting the batch.
func (c *Correlator) PairToolEvents(events []*types.CanonicalEvent) []Item {
	seen := make(map[string]bool, len(events))
	thinkCalls := make(map[string]bool)
	interactions := make(map[string]*types.ToolInteraction)
	var interactionOrder []string
	var standalone []Item

	for _, ev := range events {
		if ev == nil || ev.ID == "" {
			c.log.Warn("skipping event with no id")
			continue
		}

		switch ev.Kind {
		case types.KindToolCall, types.KindToolResult:
			if ev.ToolUseID == "" {
				c.log.Warn("skipping tool event with no tool-use id", "event_id", ev.ID, "kind", ev.Kind)
				continue
			}
			// Tool-interaction-shaped events dedup by logical call id, so a
			// re-delivery under a fresh envelope id still collapses.
			key := string(ev.Kind) + "|" + ev.ToolUseID
			if seen[key] {
				continue
			}
			seen[key] = true
		default:
			key := "id|" + string(ev.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
		}

		switch ev.Kind {
		case types.KindToolCall:
			if ev.ToolName == ThinkToolName {
				// Self-talk passes through untouched; remember the id so a
				// matching result stays standalone too.
				thinkCalls[ev.ToolUseID] = true
				standalone = append(standalone, Item{Event: ev})
				continue
			}
			call := types.UnifiedToolCall{
				ID:        ev.ToolUseID,
				Name:      ev.ToolName,
				Args:      ev.Args,
				CreatedAt: ev.CreatedAt,
				EventID:   ev.ID,
			}
			if ia, ok := interactions[ev.ToolUseID]; ok {
				// The result raced ahead and minted a stub. Fill in the
				// real call, keep the attached result, and fix up the
				// placeholder name.
				ia.Call = call
				if ia.Result != nil && ia.Result.ToolName == "unknown" {
					ia.Result.ToolName = ev.ToolName
				}
				continue
			}
			interactions[ev.ToolUseID] = &types.ToolInteraction{ID: ev.ToolUseID, Call: call}
			interactionOrder = append(interactionOrder, ev.ToolUseID)

		case types.KindToolResult:
			c.attachResult(ev, interactions, &interactionOrder, thinkCalls, &standalone)

		default:
			standalone = append(standalone, Item{Event: ev})
		}
	}

	out := make([]Item, 0, len(standalone)+len(interactionOrder))
	out = append(out, standalone...)
	for _, id := range interactionOrder {
		ia := interactions[id]
		if ia.Call.ID == "" {
			// Unreachable: interactions are only built around a call.
			c.log.Warn("dropping interaction skeleton with no call", "tool_use_id", id)
			continue
		}
		out = append(out, Item{Interaction: ia})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].createdAt().Before(out[j].createdAt())
	})
	return out
}

// attachResult resolves a tool result against the skeletons built so far.
// A result whose call was never observed is a legitimate race under push
// delivery; it gets a stub interaction so it still renders immediately.
func (c *Correlator) attachResult(
	ev *types.CanonicalEvent,
	interactions map[string]*types.ToolInteraction,
	interactionOrder *[]string,
	thinkCalls map[string]bool,
	standalone *[]Item,
) {
	result := &types.UnifiedToolResult{
		ToolCallID: ev.ToolUseID,
		ToolName:   ev.ToolName,
		Content:    ev.Result,
		IsError:    ev.IsError,
		CreatedAt:  ev.CreatedAt,
		EventID:    ev.ID,
	}

	if ia, ok := interactions[ev.ToolUseID]; ok {
		if result.ToolName == "" {
			result.ToolName = ia.Call.Name
		}
		ia.Result = result
		return
	}

	if thinkCalls[ev.ToolUseID] {
		// Defensive: think calls never produce skeletons, so their results
		// stay standalone alongside them.
		*standalone = append(*standalone, Item{Event: ev})
		return
	}

	if result.ToolName == "" {
		result.ToolName = "unknown"
	}
	interactions[ev.ToolUseID] = &types.ToolInteraction{
		ID: ev.ToolUseID,
		Call: types.UnifiedToolCall{
			ID:        ev.ToolUseID,
			Name:      "unknown",
			CreatedAt: ev.CreatedAt,
		},
		Result: result,
	}
	*interactionOrder = append(*interactionOrder, ev.ToolUseID)
}

// PairMessages flattens per-message event slices into one chronological
// list and pairs it. Call/result pairs spanning message boundaries fold the
// same way as pairs within one message.
func (c *Correlator) PairMessages(messages [][]*types.CanonicalEvent) []Item {
	var flat []*types.CanonicalEvent
	for _, msg := range messages {
		flat = append(flat, msg...)
	}
	sort.SliceStable(flat, func(i, j int) bool {
		return flat[i].CreatedAt.Before(flat[j].CreatedAt)
	})
	return c.PairToolEvents(flat)
}
