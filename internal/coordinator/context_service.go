package coordinator

import (
	"context"
	"strconv"
	"strings"

	"github.com/canvasflow/agentcore/internal/knowledge"
	"github.com/canvasflow/agentcore/internal/ports"
)

// RuleSummary is one entry in ContextResponse.Rules: the rule engine's
// current rule set, shorn of its Condition/Correction closures.
type RuleSummary struct {
	ID       string
	Priority int
}

// ToolSummary is one entry in ContextResponse.Tools.
type ToolSummary struct {
	ID          string
	Name        string
	Description string
	Category    string
}

// ContextResponse assembles the rule list, matched tools, retrieved
// knowledge, a human-readable summary line, and an optional workflow
// context snapshot into a single synchronous query result.
type ContextResponse struct {
	Rules           []RuleSummary
	Knowledge       []map[string]any
	Tools           []ToolSummary
	Summary         string
	WorkflowContext map[string]any
}

// QueryContext assembles a ContextResponse without querying knowledge,
// mirroring get_context's synchronous variant: rules and tools only.
func (c *Coordinator) QueryContext(userInput, workflowID string, toolRepo ports.ToolRepositoryPort) ContextResponse {
	rulesOut := c.ruleSummaries()
	tools := findTools(toolRepo, userInput)
	workflowCtx := c.workflowContextFor(workflowID)

	return ContextResponse{
		Rules:           rulesOut,
		Tools:           tools,
		Summary:         buildSummary(userInput, len(rulesOut), len(tools), 0),
		WorkflowContext: workflowCtx,
	}
}

// QueryContextAsync assembles a ContextResponse including knowledge,
// mirroring get_context_async: rules, tools, and a knowledge retrieval
// against knowledgeOrch (which may be nil, yielding no knowledge).
func (c *Coordinator) QueryContextAsync(ctx context.Context, userInput, workflowID string, toolRepo ports.ToolRepositoryPort, knowledgeOrch *knowledge.Orchestrator) (ContextResponse, error) {
	rulesOut := c.ruleSummaries()
	tools := findTools(toolRepo, userInput)
	workflowCtx := c.workflowContextFor(workflowID)

	var knowledgeOut []map[string]any
	if knowledgeOrch != nil && userInput != "" {
		refs, err := knowledgeOrch.RetrieveByQuery(ctx, userInput, workflowID, 5)
		if err != nil {
			return ContextResponse{}, err
		}
		knowledgeOut = refs.ToDictList()
	}

	return ContextResponse{
		Rules:           rulesOut,
		Knowledge:       knowledgeOut,
		Tools:           tools,
		Summary:         buildSummary(userInput, len(rulesOut), len(tools), len(knowledgeOut)),
		WorkflowContext: workflowCtx,
	}, nil
}

func (c *Coordinator) ruleSummaries() []RuleSummary {
	var out []RuleSummary
	for _, r := range c.engine.Rules() {
		out = append(out, RuleSummary{ID: r.ID, Priority: r.Priority})
	}
	return out
}

func (c *Coordinator) workflowContextFor(workflowID string) map[string]any {
	if workflowID == "" {
		return nil
	}
	v, ok := c.GetWorkflowState(workflowID)
	if !ok {
		return nil
	}
	return map[string]any{
		"status":         string(v.Status),
		"executed_nodes": v.ExecutedNodes,
		"failed_nodes":   v.FailedNodes,
	}
}

func findTools(repo ports.ToolRepositoryPort, userInput string) []ToolSummary {
	if repo == nil {
		return nil
	}
	all, err := repo.FindPublished()
	if err != nil {
		return nil
	}

	keywords := strings.Fields(strings.ToLower(userInput))
	var out []ToolSummary
	for _, tool := range all {
		text := strings.ToLower(tool.Name + " " + tool.Description + " " + strings.Join(tool.Tags, " "))
		if userInput == "" || containsAny(text, keywords) {
			out = append(out, ToolSummary{
				ID: tool.ID, Name: tool.Name, Description: tool.Description, Category: tool.Category,
			})
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func buildSummary(userInput string, rulesCount, toolsCount, knowledgeCount int) string {
	var parts []string
	if userInput != "" {
		preview := userInput
		if len(preview) > 50 {
			preview = preview[:50] + "..."
		}
		parts = append(parts, "input: "+preview)
	}
	parts = append(parts, itoaLabel("rules", rulesCount), itoaLabel("tools", toolsCount))
	if knowledgeCount > 0 {
		parts = append(parts, itoaLabel("knowledge", knowledgeCount))
	}
	return strings.Join(parts, " | ")
}

func itoaLabel(label string, n int) string {
	return label + "=" + strconv.Itoa(n)
}
