// Package ports declares the narrow boundaries this module depends on but
// does not implement: the workflow executor, the conversation-facing LLM
// loop, the knowledge/RAG store, and the tool registry. Concrete adapters
// live outside this module.
package ports

import "context"

// SubAgentType enumerates the sub-agent kinds referenced in event payloads.
// Their execution semantics live in the (out of scope) sub-agent scheduler.
type SubAgentType string

const (
	SubAgentSearch        SubAgentType = "search"
	SubAgentMCP           SubAgentType = "mcp"
	SubAgentPythonExecutor SubAgentType = "python_executor"
	SubAgentDataProcessor SubAgentType = "data_processor"
)

// ExecutionResult is the structured outcome of a single node execution,
// as returned by WorkflowAgentPort.ExecuteNodeWithResult.
type ExecutionResult struct {
	Success      bool
	ErrorCode    string
	ErrorMessage string
	Output       map[string]any
	Metadata     map[string]any
}

// WorkflowAgentPort is the boundary to the (out of scope) workflow node
// executor.
type WorkflowAgentPort interface {
	HandleDecision(ctx context.Context, decisionType string, payload map[string]any) (map[string]any, error)
	ExecuteNodeWithResult(ctx context.Context, nodeID string) (ExecutionResult, error)
}

// ExecutionResultPayload is handed to ConversationAgentPort.ReceiveExecutionResult.
type ExecutionResultPayload struct {
	WorkflowID string
	Status     string
	Result     map[string]any
}

// NodeStatusPayload is handed to ConversationAgentPort.ReceiveNodeStatus.
type NodeStatusPayload struct {
	NodeID   string
	NodeType string
	Status   string
	Result   map[string]any
}

// ConversationAgentPort is the boundary the Bidirectional Sync reverse
// channel drives.
type ConversationAgentPort interface {
	ReceiveExecutionResult(ctx context.Context, payload ExecutionResultPayload) error
	ReceiveNodeStatus(ctx context.Context, payload NodeStatusPayload) error
	ReplanWorkflow(ctx context.Context, originalGoal, failedNodeID, failureReason string, executionContext map[string]any) (map[string]any, error)
	// SetCanvasState writes the current canvas dict into the agent's
	// session context, per the canvas-sync write-back contract.
	SetCanvasState(canvas map[string]any)
}

// KnowledgeResult is the retriever's raw shape before normalization into a
// knowledge.Reference.
type KnowledgeResult struct {
	SourceID        string
	Title           string
	ContentPreview  string
	RelevanceScore  float64
	DocumentID      string
	ChunkID         string
	SourceType      string
	Metadata        map[string]any
}

// KnowledgeRetrieverPort is the boundary to the (out of scope) RAG/vector
// store.
type KnowledgeRetrieverPort interface {
	RetrieveByQuery(ctx context.Context, query, workflowID string, topK int) ([]KnowledgeResult, error)
	RetrieveByError(ctx context.Context, errorType, errorMessage string, topK int) ([]KnowledgeResult, error)
	RetrieveByGoal(ctx context.Context, goalText, workflowID string, topK int) ([]KnowledgeResult, error)
}

// Tool is the shape ContextService/ToolRepositoryPort deal in.
type Tool struct {
	ID          string
	Name        string
	Description string
	Category    string
	Tags        []string
	Published   bool
}

// ToolRepositoryPort is the boundary to the (out of scope) tool registry.
type ToolRepositoryPort interface {
	FindAll() ([]Tool, error)
	FindPublished() ([]Tool, error)
	FindByTags(tags []string) ([]Tool, error)
}

// LLMPort is the boundary the Conversation agent uses to reason. Go has no
// partial-interface implementation, so the optional methods from the
// source protocol (plan/replan/error-recovery) are folded into one
// interface; NoopLLM below satisfies it trivially for callers that only
// need a subset exercised.
type LLMPort interface {
	Think(ctx context.Context, context map[string]any) (map[string]any, error)
	DecideAction(ctx context.Context, context map[string]any) (map[string]any, error)
	ShouldContinue(ctx context.Context, context map[string]any) (bool, error)
	PlanWorkflow(ctx context.Context, goal string) (map[string]any, error)
	ReplanWorkflow(ctx context.Context, goal, failedNodeID, failureReason string, executionContext map[string]any) (map[string]any, error)
	PlanErrorRecovery(ctx context.Context, context map[string]any) (map[string]any, error)
}

// NoopLLM is a zero-value-safe LLMPort for tests and partial wiring.
type NoopLLM struct{}

func (NoopLLM) Think(context.Context, map[string]any) (map[string]any, error)        { return nil, nil }
func (NoopLLM) DecideAction(context.Context, map[string]any) (map[string]any, error) { return nil, nil }
func (NoopLLM) ShouldContinue(context.Context, map[string]any) (bool, error)         { return false, nil }
func (NoopLLM) PlanWorkflow(context.Context, string) (map[string]any, error)         { return nil, nil }
func (NoopLLM) ReplanWorkflow(context.Context, string, string, string, map[string]any) (map[string]any, error) {
	return nil, nil
}
func (NoopLLM) PlanErrorRecovery(context.Context, map[string]any) (map[string]any, error) {
	return nil, nil
}
