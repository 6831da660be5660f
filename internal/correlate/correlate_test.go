// internal/correlate/correlate_test.go
package correlate

import (
	"testing"
	"time"

	"github.com/user/firetail/internal/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func call(id, toolUseID, name string, offset time.Duration) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		ID:        types.EventID(id),
		Kind:      types.KindToolCall,
		CreatedAt: base.Add(offset),
		ToolUseID: toolUseID,
		ToolName:  name,
	}
}

func result(id, toolUseID, content string, offset time.Duration) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		ID:        types.EventID(id),
		Kind:      types.KindToolResult,
		CreatedAt: base.Add(offset),
		ToolUseID: toolUseID,
		Result:    content,
	}
}

func message(id, content string, offset time.Duration) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		ID:        types.EventID(id),
		Kind:      types.KindMessage,
		CreatedAt: base.Add(offset),
		Content:   content,
	}
}

func interactions(items []Item) []*types.ToolInteraction {
	var out []*types.ToolInteraction
	for _, it := range items {
		if it.Interaction != nil {
			out = append(out, it.Interaction)
		}
	}
	return out
}

func TestPairCallThenResult(t *testing.T) {
	c := New(nil)
	items := c.PairToolEvents([]*types.CanonicalEvent{
		call("e1", "c1", "grep", 0),
		result("e2", "c1", "3 matches", time.Second),
	})

	ias := interactions(items)
	if len(items) != 1 || len(ias) != 1 {
		t.Fatalf("expected exactly one interaction item, got %d items / %d interactions", len(items), len(ias))
	}
	ia := ias[0]
	if ia.ID != "c1" || ia.Call.Name != "grep" {
		t.Errorf("wrong call: %+v", ia.Call)
	}
	if ia.Result == nil || ia.Result.Content != "3 matches" {
		t.Fatalf("result not attached: %+v", ia.Result)
	}
	if ia.Result.ToolName != "grep" {
		t.Errorf("expected tool name backfilled to grep, got %q", ia.Result.ToolName)
	}
}

func TestOrphanResultGetsStub(t *testing.T) {
	c := New(nil)
	items := c.PairToolEvents([]*types.CanonicalEvent{
		result("e1", "c2", "output", 0),
	})

	ias := interactions(items)
	if len(ias) != 1 {
		t.Fatalf("expected stub interaction, got %d", len(ias))
	}
	if ias[0].Call.Name != "unknown" {
		t.Errorf("expected stub call name unknown, got %q", ias[0].Call.Name)
	}
	if ias[0].Result == nil || ias[0].Result.Content != "output" {
		t.Error("orphan result must still render")
	}
}

func TestCallAfterResultFoldsIntoOneInteraction(t *testing.T) {
	c := New(nil)
	items := c.PairToolEvents([]*types.CanonicalEvent{
		result("e1", "c1", "output", 0),
		call("e2", "c1", "grep", time.Second),
	})

	ias := interactions(items)
	if len(ias) != 1 {
		t.Fatalf("expected exactly one interaction for c1, got %d (items=%d)", len(ias), len(items))
	}
	if len(items) != 1 {
		t.Errorf("expected a single item, got %d", len(items))
	}
	ia := ias[0]
	if ia.Call.Name != "grep" {
		t.Errorf("late call should replace the stub, got name %q", ia.Call.Name)
	}
	if ia.Result == nil || ia.Result.Content != "output" {
		t.Fatalf("result attached before the call must survive: %+v", ia.Result)
	}
	if ia.Result.ToolName != "grep" {
		t.Errorf("placeholder tool name should be fixed up, got %q", ia.Result.ToolName)
	}
}

func TestThinkToolStaysStandalone(t *testing.T) {
	c := New(nil)
	events := []*types.CanonicalEvent{
		call("e1", "c1", ThinkToolName, 0),
		result("e2", "c1", "pondering", time.Second),
		message("e3", "hi", 2*time.Second),
	}
	items := c.PairToolEvents(events)

	if len(items) != len(events) {
		t.Fatalf("think events must pass through: want %d items, got %d", len(events), len(items))
	}
	if len(interactions(items)) != 0 {
		t.Error("think call/result must never appear inside an interaction")
	}
}

func TestDuplicateEnvelopesCollapse(t *testing.T) {
	c := New(nil)
	items := c.PairToolEvents([]*types.CanonicalEvent{
		call("e1", "c1", "bash", 0),
		call("e9", "c1", "bash", 0), // re-delivery, fresh envelope id
		result("e2", "c1", "ok", time.Second),
		result("e8", "c1", "ok", time.Second),
		message("m1", "hello", 0),
		message("m1", "hello", 0), // duplicate event id
	})

	ias := interactions(items)
	if len(ias) != 1 {
		t.Fatalf("expected one interaction per tool-use id, got %d", len(ias))
	}
	if len(items) != 2 {
		t.Errorf("expected [message, interaction], got %d items", len(items))
	}
}

func TestOutputRestoresNarrativeOrder(t *testing.T) {
	c := New(nil)
	items := c.PairToolEvents([]*types.CanonicalEvent{
		message("m1", "first", 0),
		call("e1", "c1", "grep", time.Second),
		message("m2", "last", 3*time.Second),
		result("e2", "c1", "ok", 2*time.Second),
	})

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Event == nil || items[0].Event.Content != "first" {
		t.Error("first item should be the first message")
	}
	if items[1].Interaction == nil {
		t.Error("second item should be the interaction, ordered at its call time")
	}
	if items[2].Event == nil || items[2].Event.Content != "last" {
		t.Error("last item should be the last message")
	}
}

func TestMalformedEventsAreSkipped(t *testing.T) {
	c := New(nil)
	items := c.PairToolEvents([]*types.CanonicalEvent{
		nil,
		{Kind: types.KindMessage, CreatedAt: base}, // no id
		{ID: "e1", Kind: types.KindToolCall, CreatedAt: base}, // no tool-use id
		message("m1", "ok", time.Second),
	})

	if len(items) != 1 || items[0].Event.Content != "ok" {
		t.Fatalf("malformed events must be skipped without aborting: %+v", items)
	}
}

func TestPairMessagesFlattensAcrossBoundaries(t *testing.T) {
	c := New(nil)
	messages := [][]*types.CanonicalEvent{
		{call("e1", "c1", "grep", 0)},
		{result("e2", "c1", "ok", time.Second), message("m1", "tail", 2*time.Second)},
	}
	items := c.PairMessages(messages)

	ias := interactions(items)
	if len(ias) != 1 || ias[0].Result == nil {
		t.Fatal("pair spanning messages should fold into one interaction")
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}
}
