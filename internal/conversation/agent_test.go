package conversation

import (
	"testing"
	"time"

	"github.com/canvasflow/agentcore/internal/events"
)

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestInvalidTransitionDoesNotMutateState(t *testing.T) {
	bus := events.New()
	a := New("s1", bus)

	if err := a.TransitionToAsync(StateCompleted); err == nil {
		t.Fatal("expected an error transitioning IDLE -> COMPLETED")
	}
	if got := a.State(); got != StateIdle {
		t.Fatalf("expected state to remain IDLE, got %s", got)
	}
}

func TestValidTransitionSequence(t *testing.T) {
	bus := events.New()
	a := New("s1", bus)

	var changed []events.StateChanged
	events.Subscribe(bus, func(e events.StateChanged) {
		changed = append(changed, e)
	})

	if err := a.TransitionToAsync(StateProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.TransitionToAsync(StateCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(changed) != 2 {
		t.Fatalf("expected 2 StateChanged events, got %d", len(changed))
	}
	if changed[0].FromState != "IDLE" || changed[0].ToState != "PROCESSING" {
		t.Fatalf("unexpected first transition event: %+v", changed[0])
	}
	if changed[1].FromState != "PROCESSING" || changed[1].ToState != "COMPLETED" {
		t.Fatalf("unexpected second transition event: %+v", changed[1])
	}
}

func TestWaitForSubagentPublishesSpawnAndStateChanged(t *testing.T) {
	bus := events.New()
	a := New("s1", bus)
	a.TransitionToAsync(StateProcessing)

	var spawned []events.SpawnSubAgent
	events.Subscribe(bus, func(e events.SpawnSubAgent) {
		spawned = append(spawned, e)
	})

	if err := a.WaitForSubagentAsync("sub-1", "task-1", map[string]any{"goal": "ship"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.State() != StateWaitingForSubagent {
		t.Fatalf("expected WAITING_FOR_SUBAGENT, got %s", a.State())
	}
	if len(spawned) != 1 {
		t.Fatalf("expected 1 SpawnSubAgent event, got %d", len(spawned))
	}
}

func TestMismatchedSubAgentIDDoesNotMutateStateOrResults(t *testing.T) {
	bus := events.New()
	a := New("s1", bus)
	a.TransitionToAsync(StateProcessing)
	a.WaitForSubagentAsync("sub-1", "task-1", map[string]any{"goal": "ship"})

	bus.Publish(events.SubAgentCompleted{
		Envelope:   events.NewEnvelope("test"),
		SubAgentID: "sub-WRONG",
		SessionID:  "s1",
		Success:    true,
		Result:     map[string]any{"x": 1},
	})

	time.Sleep(10 * time.Millisecond)

	if a.State() != StateWaitingForSubagent {
		t.Fatalf("expected state to remain WAITING_FOR_SUBAGENT, got %s", a.State())
	}
	if len(a.SubAgentHistory()) != 0 {
		t.Fatalf("expected no recorded history for a mismatched subagent id, got %d entries", len(a.SubAgentHistory()))
	}
}

func TestSubAgentCompletedResumesToProcessing(t *testing.T) {
	bus := events.New()
	a := New("s1", bus)
	a.TransitionToAsync(StateProcessing)
	a.WaitForSubagentAsync("sub-1", "task-1", map[string]any{"goal": "ship"})

	bus.Publish(events.SubAgentCompleted{
		Envelope:   events.NewEnvelope("test"),
		SubAgentID: "sub-1",
		SessionID:  "s1",
		Success:    true,
		Result:     map[string]any{"answer": 42},
	})

	waitForCondition(t, func() bool { return a.State() == StateProcessing })

	history := a.SubAgentHistory()
	if len(history) != 1 {
		t.Fatalf("expected 1 recorded completion, got %d", len(history))
	}
	if history[0].SubAgentID != "sub-1" || !history[0].Success {
		t.Fatalf("unexpected recorded result: %+v", history[0])
	}
}

func TestCompletionOutsideWaitingStateIsIgnored(t *testing.T) {
	bus := events.New()
	a := New("s1", bus)
	a.TransitionToAsync(StateProcessing)
	a.WaitForSubagentAsync("sub-1", "task-1", nil)
	a.ResumeFromSubagentAsync(nil)

	bus.Publish(events.SubAgentCompleted{
		Envelope:   events.NewEnvelope("test"),
		SubAgentID: "sub-1",
		SessionID:  "s1",
		Success:    true,
	})

	time.Sleep(10 * time.Millisecond)

	if a.State() != StateProcessing {
		t.Fatalf("expected state to remain PROCESSING, got %s", a.State())
	}
	if len(a.SubAgentHistory()) != 0 {
		t.Fatalf("expected the late completion to be ignored, got %d entries", len(a.SubAgentHistory()))
	}
}

func TestFeedbackInboxCollectsAndClears(t *testing.T) {
	bus := events.New()
	a := New("s1", bus)

	bus.Publish(events.WorkflowAdjustmentRequested{
		Envelope:        events.NewEnvelope("test"),
		WorkflowID:      "w1",
		SuggestedAction: events.ActionReplan,
	})
	bus.Publish(events.NodeFailureHandled{
		Envelope:   events.NewEnvelope("test"),
		WorkflowID: "w1",
		NodeID:     "n1",
		Strategy:   "skip",
	})

	feedbacks := a.GetPendingFeedbacks()
	if len(feedbacks) != 2 {
		t.Fatalf("expected 2 pending feedbacks, got %d", len(feedbacks))
	}

	a.ClearFeedbacks()
	if len(a.GetPendingFeedbacks()) != 0 {
		t.Fatal("expected feedback inbox to be empty after clearing")
	}
}

func TestDeepCopyContextPreventsMutationLeak(t *testing.T) {
	bus := events.New()
	a := New("s1", bus)
	a.TransitionToAsync(StateProcessing)

	original := map[string]any{"nested": map[string]any{"count": 1}}
	a.WaitForSubagentAsync("sub-1", "task-1", original)

	original["nested"].(map[string]any)["count"] = 999

	a.stateLock.Lock()
	count := a.pending.suspendedContext["nested"].(map[string]any)["count"]
	a.stateLock.Unlock()
	if count != 1 {
		t.Fatalf("expected the suspended context to keep count=1 after the caller mutated its map, got %v", count)
	}

	bus.Publish(events.SubAgentCompleted{
		Envelope:   events.NewEnvelope("test"),
		SubAgentID: "sub-1",
		SessionID:  "s1",
		Success:    true,
	})
	waitForCondition(t, func() bool { return a.State() == StateProcessing })
}
