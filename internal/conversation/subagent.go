package conversation

import (
	"github.com/canvasflow/agentcore/internal/events"
)

// WaitForSubagentAsync suspends the conversation on a spawned sub-agent:
// it deep-copies context (so later mutation by the caller can't leak into
// the suspended snapshot), records the pending sub-agent under stateLock,
// transitions to WAITING_FOR_SUBAGENT, then — after releasing stateLock —
// publishes SpawnSubAgent and StateChanged under criticalEventLock.
func (a *Agent) WaitForSubagentAsync(subagentID, taskID string, taskPayload map[string]any) error {
	a.stateLock.Lock()
	from := a.state
	a.pending = &pendingSubagent{
		subagentID:       subagentID,
		taskID:           taskID,
		suspendedContext: deepCopyContext(taskPayload),
	}
	err := a.transitionLocked(StateWaitingForSubagent)
	if err != nil {
		a.pending = nil
	}
	a.stateLock.Unlock()
	if err != nil {
		return err
	}

	a.criticalEventLock.Lock()
	a.bus.Publish(events.SpawnSubAgent{
		Envelope:        events.NewEnvelope("conversation"),
		SubAgentType:    taskID,
		TaskPayload:     deepCopyContext(taskPayload),
		SessionID:       a.SessionID,
		ContextSnapshot: deepCopyContext(taskPayload),
	})
	a.bus.Publish(events.StateChanged{
		Envelope:  events.NewEnvelope("conversation"),
		FromState: string(from),
		ToState:   string(StateWaitingForSubagent),
		SessionID: a.SessionID,
	})
	a.criticalEventLock.Unlock()
	return nil
}

// ResumeFromSubagentAsync reverses WaitForSubagentAsync: it deep-copies the
// suspended context, injects result under "subagent_result", clears the
// pending slot, transitions back to PROCESSING, then publishes
// StateChanged after releasing stateLock.
func (a *Agent) ResumeFromSubagentAsync(result map[string]any) (map[string]any, error) {
	a.stateLock.Lock()
	var resumedContext map[string]any
	if a.pending != nil {
		resumedContext = deepCopyContext(a.pending.suspendedContext)
	} else {
		resumedContext = make(map[string]any)
	}
	resumedContext["subagent_result"] = deepCopyContext(result)

	from := a.state
	err := a.transitionLocked(StateProcessing)
	if err == nil {
		a.pending = nil
	}
	a.stateLock.Unlock()
	if err != nil {
		return nil, err
	}

	a.publishStateChanged(from, StateProcessing)
	return resumedContext, nil
}

// handleSubAgentCompleted implements the exact ignore/record/resume
// ordering: a completion whose subagent id is not the pending one, or that
// arrives outside WAITING_FOR_SUBAGENT, is ignored outright (no mutation);
// otherwise the result is recorded and resume is triggered only after
// state_lock has been released — so the resume's own publish never nests
// inside this handler's lock.
func (a *Agent) handleSubAgentCompleted(e events.SubAgentCompleted) {
	a.stateLock.Lock()
	if a.pending == nil || a.pending.subagentID != e.SubAgentID || a.state != StateWaitingForSubagent {
		a.stateLock.Unlock()
		return
	}
	result := SubAgentResult{
		SubAgentID: e.SubAgentID,
		Success:    e.Success,
		Result:     deepCopyContext(e.Result),
		Error:      e.Error,
	}
	a.subagentHistory = append(a.subagentHistory, result)
	a.lastSubagentResult = &result
	a.stateLock.Unlock()

	a.trackedGo(func() {
		if _, err := a.ResumeFromSubagentAsync(result.Result); err != nil {
			a.logger.Sugar().Warnw("resume from subagent failed",
				"subagent_id", e.SubAgentID, "error", err)
		}
	})
}

// SubAgentHistory returns a snapshot of every recorded sub-agent
// completion for this agent, in arrival order.
func (a *Agent) SubAgentHistory() []SubAgentResult {
	a.stateLock.Lock()
	defer a.stateLock.Unlock()
	out := make([]SubAgentResult, len(a.subagentHistory))
	copy(out, a.subagentHistory)
	return out
}

func (a *Agent) pushFeedback(f Feedback) {
	a.feedbackMu.Lock()
	defer a.feedbackMu.Unlock()
	a.feedbacks = append(a.feedbacks, f)
}

// GetPendingFeedbacks returns a snapshot of the feedback inbox without
// clearing it.
func (a *Agent) GetPendingFeedbacks() []Feedback {
	a.feedbackMu.Lock()
	defer a.feedbackMu.Unlock()
	out := make([]Feedback, len(a.feedbacks))
	copy(out, a.feedbacks)
	return out
}

// ClearFeedbacks empties the feedback inbox.
func (a *Agent) ClearFeedbacks() {
	a.feedbackMu.Lock()
	defer a.feedbackMu.Unlock()
	a.feedbacks = nil
}
