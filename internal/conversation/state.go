// Package conversation implements the Conversation agent's finite state
// machine: lock-protected transitions, the pending sub-agent lifecycle,
// tracked background tasks, and the feedback inbox that feeds the
// reasoning loop's ERROR_RECOVERY and REPLAN_WORKFLOW decisions.
package conversation

import "fmt"

// State is the Conversation agent's finite state.
type State string

const (
	StateIdle               State = "IDLE"
	StateProcessing         State = "PROCESSING"
	StateWaitingForSubagent State = "WAITING_FOR_SUBAGENT"
	StateCompleted          State = "COMPLETED"
	StateError              State = "ERROR"
)

// transitions is the closed set of valid state moves.
var transitions = map[State]map[State]struct{}{
	StateIdle: {
		StateProcessing: {},
		StateError:      {},
	},
	StateProcessing: {
		StateWaitingForSubagent: {},
		StateCompleted:          {},
		StateError:              {},
		StateIdle:               {},
	},
	StateWaitingForSubagent: {
		StateProcessing: {},
		StateError:      {},
	},
	StateCompleted: {
		StateIdle: {},
	},
	StateError: {
		StateIdle: {},
	},
}

// InvalidTransitionError reports an attempted move outside the closed
// transition table.
type InvalidTransitionError struct {
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func isValidTransition(from, to State) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
