package conversation

import (
	"sync"

	"github.com/canvasflow/agentcore/internal/events"
	"github.com/canvasflow/agentcore/internal/ports"
	"go.uber.org/zap"
)

// pendingSubagent is populated only while state == StateWaitingForSubagent.
type pendingSubagent struct {
	subagentID       string
	taskID           string
	suspendedContext map[string]any
}

// Agent owns the Conversation state machine: two locks (stateLock guards
// state and the pending sub-agent slot; criticalEventLock serializes
// StateChanged/SpawnSubAgent publication), tracked background tasks, and
// the feedback inbox. The lock-ordering rule is load-bearing: stateLock is
// never held while waiting on criticalEventLock or while calling the bus,
// since the bus may recursively invoke handlers that themselves take
// stateLock.
type Agent struct {
	SessionID string

	stateLock         sync.Mutex
	state             State
	pending           *pendingSubagent
	subagentHistory   []SubAgentResult
	lastSubagentResult *SubAgentResult

	criticalEventLock sync.Mutex

	tasksMu sync.Mutex
	tasks   map[*trackedTask]struct{}

	feedbackMu sync.Mutex
	feedbacks  []Feedback

	sessionMu      sync.Mutex
	sessionContext map[string]any

	bus    *events.Bus
	logger *zap.Logger
	llm    ports.LLMPort
}

// SubAgentResult is what handle_subagent_completed records and
// resume_from_subagent injects under the "subagent_result" context key.
type SubAgentResult struct {
	SubAgentID string
	Success    bool
	Result     map[string]any
	Error      string
}

// Feedback is one entry in the pending-feedback inbox: either a
// WorkflowAdjustmentRequested or a NodeFailureHandled, carried opaquely so
// the reasoning loop decides what ERROR_RECOVERY or REPLAN_WORKFLOW
// decision it implies.
type Feedback struct {
	Kind  string // "adjustment" or "node_failure"
	Event events.Event
}

// trackedTask is a handle for a tracked background goroutine; the set
// membership (not the struct contents) is what's tracked.
type trackedTask struct{}

// Option configures an Agent at construction time.
type Option func(*Agent)

// WithLogger injects a zap logger; defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithLLM injects the reasoning port ReplanWorkflow delegates to; defaults
// to ports.NoopLLM{}.
func WithLLM(llm ports.LLMPort) Option {
	return func(a *Agent) { a.llm = llm }
}

// New builds an Agent bound to bus, wired to start in StateIdle, and
// subscribes its feedback inbox and sub-agent completion handler.
func New(sessionID string, bus *events.Bus, opts ...Option) *Agent {
	a := &Agent{
		SessionID:      sessionID,
		state:          StateIdle,
		tasks:          make(map[*trackedTask]struct{}),
		sessionContext: make(map[string]any),
		bus:            bus,
		logger:         zap.NewNop(),
		llm:            ports.NoopLLM{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.subscribe()
	return a
}

func (a *Agent) subscribe() {
	events.Subscribe(a.bus, func(e events.SubAgentCompleted) {
		if e.SessionID != a.SessionID {
			return
		}
		a.handleSubAgentCompleted(e)
	})
	events.Subscribe(a.bus, func(e events.WorkflowAdjustmentRequested) {
		a.pushFeedback(Feedback{Kind: "adjustment", Event: e})
	})
	events.Subscribe(a.bus, func(e events.NodeFailureHandled) {
		a.pushFeedback(Feedback{Kind: "node_failure", Event: e})
	})
}

// State returns the current state under stateLock.
func (a *Agent) State() State {
	a.stateLock.Lock()
	defer a.stateLock.Unlock()
	return a.state
}

// transitionLocked is the inner primitive: the caller must already hold
// stateLock. It validates and mutates only; it never publishes.
func (a *Agent) transitionLocked(newState State) error {
	if !isValidTransition(a.state, newState) {
		return &InvalidTransitionError{From: a.state, To: newState}
	}
	a.state = newState
	return nil
}

// TransitionTo validates and applies a transition, then schedules a
// best-effort background publish of StateChanged — mirroring the source's
// synchronous transition_to, which does not block the caller on
// publication.
func (a *Agent) TransitionTo(newState State) error {
	a.stateLock.Lock()
	from := a.state
	err := a.transitionLocked(newState)
	a.stateLock.Unlock()
	if err != nil {
		return err
	}

	a.trackedGo(func() {
		a.publishStateChanged(from, newState)
	})
	return nil
}

// TransitionToAsync validates and applies a transition under stateLock,
// releases it, then publishes StateChanged under criticalEventLock before
// returning — guaranteeing ordered, at-most-once-per-transition delivery
// to every subscriber before the caller proceeds.
func (a *Agent) TransitionToAsync(newState State) error {
	a.stateLock.Lock()
	from := a.state
	err := a.transitionLocked(newState)
	a.stateLock.Unlock()
	if err != nil {
		return err
	}

	a.publishStateChanged(from, newState)
	return nil
}

func (a *Agent) publishStateChanged(from, to State) {
	a.criticalEventLock.Lock()
	defer a.criticalEventLock.Unlock()
	a.bus.Publish(events.StateChanged{
		Envelope:  events.NewEnvelope("conversation"),
		FromState: string(from),
		ToState:   string(to),
		SessionID: a.SessionID,
	})
}

// trackedGo runs fn in a goroutine tracked in a.tasks, auto-removed on
// completion, so nothing cancels it prematurely while it's still running.
func (a *Agent) trackedGo(fn func()) {
	handle := &trackedTask{}
	a.tasksMu.Lock()
	a.tasks[handle] = struct{}{}
	a.tasksMu.Unlock()

	go func() {
		defer func() {
			a.tasksMu.Lock()
			delete(a.tasks, handle)
			a.tasksMu.Unlock()
		}()
		fn()
	}()
}

// TrackedTaskCount reports how many background tasks are currently
// in flight; exposed for tests and graceful-shutdown draining.
func (a *Agent) TrackedTaskCount() int {
	a.tasksMu.Lock()
	defer a.tasksMu.Unlock()
	return len(a.tasks)
}
