// Package rules implements the declarative rule engine that backs both the
// Coordinator Policy Chain and standalone validation call sites: a
// priority-sorted list of pure predicates evaluated against a Decision,
// producing a ValidationResult. Conditions never mutate the decision they
// inspect.
package rules

import (
	"sort"
)

// Decision is the typed carrier every rule evaluates. Payload stays a
// map since its shape varies by decision type.
type Decision struct {
	ID            string
	Type          string
	Payload       map[string]any
	CorrelationID string
	SessionID     string
}

// Condition is a pure predicate: true means the rule is satisfied.
type Condition func(Decision) bool

// Correction optionally rewrites a decision that failed its rule's
// condition. It must be idempotent: applying it twice must equal applying
// it once.
type Correction func(Decision) Decision

// Rule is one priority-ordered entry in the Engine.
//
// Most rules are single-verdict: Condition reports pass/fail and, on
// failure, ErrorMessage (or its "rule {id} violated" fallback) is the sole
// error appended. A rule that can fail for several independent reasons at
// once (the DAG rule's unique-id, dangling-edge, and cycle checks) sets
// Violations instead: when non-nil it is called regardless of Condition's
// result and its returned strings replace the single ErrorMessage, letting
// one rule emit distinct errors per violation it finds.
type Rule struct {
	ID           string
	Priority     int
	Condition    Condition
	Correction   Correction
	ErrorMessage string
	Violations   func(Decision) []string
}

func (r Rule) errorMessage() string {
	if r.ErrorMessage != "" {
		return r.ErrorMessage
	}
	return "rule " + r.ID + " violated"
}

// ValidationResult is the Engine's verdict: IsValid iff Errors is empty.
// Correction carries the first failing rule's correction, if any;
// subsequent corrections are ignored per the engine's single-correction
// contract.
type ValidationResult struct {
	IsValid    bool
	Errors     []string
	Correction Correction
}

// Engine holds rules sorted ascending by priority; insertion order breaks
// ties (stable sort).
type Engine struct {
	rules []Rule
}

// NewEngine builds an Engine from an initial rule set, already or not yet
// priority-sorted; Add and the constructor both keep the slice sorted.
func NewEngine(initial ...Rule) *Engine {
	e := &Engine{}
	for _, r := range initial {
		e.Add(r)
	}
	return e
}

// Add appends a rule and restores priority order with a stable sort, so
// rules added at equal priority keep insertion order as the tiebreak.
func (e *Engine) Add(r Rule) {
	e.rules = append(e.rules, r)
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority < e.rules[j].Priority
	})
}

// Rules returns the current priority-ordered rule set.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Validate runs every rule's condition against decision in priority order,
// collecting error messages for each violated rule. Only the first
// violated rule's Correction (if any) survives into the result.
func (e *Engine) Validate(decision Decision) ValidationResult {
	result := ValidationResult{IsValid: true}
	for _, r := range e.rules {
		if r.Violations != nil {
			if errs := r.Violations(decision); len(errs) > 0 {
				result.IsValid = false
				result.Errors = append(result.Errors, errs...)
				if result.Correction == nil && r.Correction != nil {
					result.Correction = r.Correction
				}
			}
			continue
		}
		if r.Condition(decision) {
			continue
		}
		result.IsValid = false
		result.Errors = append(result.Errors, r.errorMessage())
		if result.Correction == nil && r.Correction != nil {
			result.Correction = r.Correction
		}
	}
	return result
}
