// Package policychain implements the Coordinator Policy Chain: the
// middleware that intercepts supervised DecisionMade events, routes them
// through a rules.Engine, and publishes DecisionValidated or
// DecisionRejected — blocking onward dispatch of the original event on
// rejection.
package policychain

import (
	"fmt"
	"strings"
	"sync"

	"github.com/canvasflow/agentcore/internal/events"
	"github.com/canvasflow/agentcore/internal/rules"
	"go.uber.org/zap"
)

// defaultSupervisedTypes are the decision types routed through validation
// unless the caller configures a different set.
var defaultSupervisedTypes = []string{
	"api_request",
	"create_node",
	"file_operation",
	"human_interaction",
	"tool_call",
}

// Coordinator is the narrow validation boundary the chain calls into. It is
// deliberately smaller than internal/coordinator's full surface so this
// package can be tested without the rest of the system wired up.
type Coordinator interface {
	ValidateDecision(d rules.Decision) rules.ValidationResult
}

// RejectedError is raised when a supervised decision fails validation (or
// fails closed). On a failed validation EnforceActionOrRaise publishes
// DecisionRejected itself before returning it; the fail-closed rejection
// is returned without publishing any event.
type RejectedError struct {
	DecisionType       string
	CorrelationID      string
	OriginalDecisionID string
	Errors             []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("decision %s (type=%s, correlation=%s) rejected: %s",
		e.OriginalDecisionID, e.DecisionType, e.CorrelationID, strings.Join(e.Errors, "; "))
}

type dedupeKey struct {
	decisionType       string
	correlationID      string
	originalDecisionID string
}

// Chain enforces supervised decisions. Its dedupe state is process-local
// and grows with the number of distinct decisions observed; callers that
// must reprocess after a transient failure should use a fresh
// correlation id.
type Chain struct {
	mu         sync.Mutex
	supervised map[string]struct{}
	seen       map[dedupeKey]struct{}
	failClosed bool

	coordinator Coordinator
	bus         *events.Bus
	logger      *zap.Logger

	stats Stats
}

// Option configures a Chain at construction time.
type Option func(*Chain)

// WithSupervisedTypes overrides the default supervised decision type set.
func WithSupervisedTypes(types ...string) Option {
	return func(c *Chain) {
		c.supervised = make(map[string]struct{}, len(types))
		for _, t := range types {
			c.supervised[t] = struct{}{}
		}
	}
}

// WithFailClosed controls behavior when no Coordinator or Bus is
// configured: true rejects supervised decisions, false passes them through.
func WithFailClosed(failClosed bool) Option {
	return func(c *Chain) { c.failClosed = failClosed }
}

// WithLogger injects a zap logger; defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

// New builds a Chain bound to coordinator and bus. Either may be nil, in
// which case EnforceActionOrRaise follows the configured fail-closed
// behavior for supervised decisions.
func New(coordinator Coordinator, bus *events.Bus, opts ...Option) *Chain {
	c := &Chain{
		seen:        make(map[dedupeKey]struct{}),
		failClosed:  true,
		coordinator: coordinator,
		bus:         bus,
		logger:      zap.NewNop(),
	}
	WithSupervisedTypes(defaultSupervisedTypes...)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) isSupervised(decisionType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.supervised[decisionType]
	return ok
}

// SetSupervisedTypes replaces the supervised decision type set, for a
// caller hot-reloading configuration (e.g. ConfigManager's
// policy_chain.yaml change handler) without restarting the process.
func (c *Chain) SetSupervisedTypes(types ...string) {
	supervised := make(map[string]struct{}, len(types))
	for _, t := range types {
		supervised[t] = struct{}{}
	}
	c.mu.Lock()
	c.supervised = supervised
	c.mu.Unlock()
}

// EnforceActionOrRaise is the chain's single entry point. decisionType not
// in the supervised set is a pass-through. A previously-seen dedupe key is
// also a pass-through (the decision was already validated or rejected
// once). On rejection — including the fail-closed case with no
// coordinator/bus configured — it returns a *RejectedError.
func (c *Chain) EnforceActionOrRaise(decision rules.Decision, decisionType, correlationID, originalDecisionID string) error {
	if !c.isSupervised(decisionType) {
		return nil
	}

	key := dedupeKey{decisionType: decisionType, correlationID: correlationID, originalDecisionID: originalDecisionID}

	c.mu.Lock()
	if _, dup := c.seen[key]; dup {
		c.mu.Unlock()
		return nil
	}
	c.seen[key] = struct{}{}
	c.mu.Unlock()

	if c.coordinator == nil || c.bus == nil {
		if c.failClosed {
			errs := []string{"coordinator or event_bus not configured"}
			c.recordOutcome(false)
			return &RejectedError{
				DecisionType:       decisionType,
				CorrelationID:      correlationID,
				OriginalDecisionID: originalDecisionID,
				Errors:             errs,
			}
		}
		c.recordOutcome(true)
		return nil
	}

	result := c.coordinator.ValidateDecision(decision)
	if result.IsValid {
		c.recordOutcome(true)
		c.bus.Publish(events.DecisionValidated{
			Envelope:           events.NewEnvelope("policychain"),
			OriginalDecisionID: originalDecisionID,
			DecisionType:       decisionType,
			Payload:            decision.Payload,
		})
		return nil
	}

	c.recordOutcome(false)
	c.bus.Publish(events.DecisionRejected{
		Envelope:           events.NewEnvelope("policychain"),
		OriginalDecisionID: originalDecisionID,
		DecisionType:       decisionType,
		Reason:             strings.Join(result.Errors, "; "),
		Errors:             result.Errors,
	})
	return &RejectedError{
		DecisionType:       decisionType,
		CorrelationID:      correlationID,
		OriginalDecisionID: originalDecisionID,
		Errors:             result.Errors,
	}
}

// AsMiddleware adapts the chain into an events.Middleware: it intercepts
// DecisionMade, runs EnforceActionOrRaise, and returns nil on rejection so
// the bus never dispatches the original event onward. Any other event type
// passes through untouched.
func (c *Chain) AsMiddleware() events.Middleware {
	return func(e events.Event) events.Event {
		dm, ok := e.(events.DecisionMade)
		if !ok {
			return e
		}

		decision := rules.Decision{
			ID:            dm.DecisionID,
			Type:          dm.DecisionType,
			Payload:       dm.Payload,
			CorrelationID: dm.CorrelationID,
			SessionID:     dm.SessionID,
		}

		if err := c.EnforceActionOrRaise(decision, dm.DecisionType, dm.CorrelationID, dm.DecisionID); err != nil {
			c.logger.Info("decision blocked by policy chain",
				zap.String("decision_id", dm.DecisionID),
				zap.String("decision_type", dm.DecisionType),
				zap.Error(err))
			return nil
		}
		return e
	}
}

// Stats accumulates pass/reject counts across the chain's lifetime.
type Stats struct {
	Total    int
	Passed   int
	Rejected int
}

// RejectionRate is Rejected/Total, or 0 when Total is 0.
func (s Stats) RejectionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Rejected) / float64(s.Total)
}

const (
	defaultRejectionRateThreshold = 0.5
	defaultSamplingFloor          = 1
)

// IsRejectionRateHigh reports whether RejectionRate exceeds threshold,
// guarded by a sampling floor so a handful of early rejections don't read
// as a crisis.
func (s Stats) IsRejectionRateHigh(threshold float64, samplingFloor int) bool {
	if s.Total < samplingFloor {
		return false
	}
	return s.RejectionRate() > threshold
}

func (c *Chain) recordOutcome(passed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Total++
	if passed {
		c.stats.Passed++
	} else {
		c.stats.Rejected++
	}
}

// Statistics returns a snapshot of the chain's running pass/reject counts.
func (c *Chain) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// IsRejectionRateHigh applies the default threshold (0.5) and sampling
// floor (1) to the chain's current statistics.
func (c *Chain) IsRejectionRateHigh() bool {
	return c.Statistics().IsRejectionRateHigh(defaultRejectionRateThreshold, defaultSamplingFloor)
}
