package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// RegoRule compiles a rego module once and exposes its `allow` result as an
// ordinary Condition, so a declarative policy-as-code rule sorts into the
// same priority-ordered engine as hand-written Go predicates. Compilation
// happens once via rego.New(...).PrepareForEval against a decision query,
// against a single in-memory module rather than a directory walk, since
// this engine's rules are registered by the caller, not discovered from
// disk.
//
// The module must define a boolean `data.<query>` (conventionally
// `<package>.allow`). The decision is marshaled to JSON and back into a
// generic map before being handed to rego as input, since rego only
// accepts JSON-shaped values.
func RegoRule(ctx context.Context, id string, priority int, module, query string) (Rule, error) {
	prepared, err := rego.New(
		rego.Query("data."+query),
		rego.Module(id+".rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return Rule{}, fmt.Errorf("compile rego rule %s: %w", id, err)
	}

	condition := func(d Decision) bool {
		input, err := decisionToInput(d)
		if err != nil {
			return false
		}
		results, err := prepared.Eval(context.Background(), rego.EvalInput(input))
		if err != nil || len(results) == 0 {
			return false
		}
		allow, _ := results[0].Expressions[0].Value.(bool)
		return allow
	}

	return Rule{
		ID:           id,
		Priority:     priority,
		Condition:    condition,
		ErrorMessage: fmt.Sprintf("rule %s violated: policy %s denied decision", id, query),
	}, nil
}

func decisionToInput(d Decision) (map[string]any, error) {
	raw, err := json.Marshal(struct {
		ID            string         `json:"id"`
		Type          string         `json:"type"`
		Payload       map[string]any `json:"payload"`
		CorrelationID string         `json:"correlation_id"`
		SessionID     string         `json:"session_id"`
	}{d.ID, d.Type, d.Payload, d.CorrelationID, d.SessionID})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
