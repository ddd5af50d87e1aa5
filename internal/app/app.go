// Package app is the composition root: it loads configuration, wires the
// event bus, the Coordinator, the Conversation agent, the forward/reverse/
// canvas sync channels, the Failure orchestrator, and the Knowledge
// orchestrator into one running system, and exposes the aggregate
// statistics an operator dashboard would poll.
package app

import (
	"context"
	"time"

	"github.com/canvasflow/agentcore/internal/circuitbreaker"
	"github.com/canvasflow/agentcore/internal/config"
	"github.com/canvasflow/agentcore/internal/conversation"
	"github.com/canvasflow/agentcore/internal/coordinator"
	"github.com/canvasflow/agentcore/internal/events"
	"github.com/canvasflow/agentcore/internal/failure"
	"github.com/canvasflow/agentcore/internal/knowledge"
	"github.com/canvasflow/agentcore/internal/policychain"
	"github.com/canvasflow/agentcore/internal/ports"
	"github.com/canvasflow/agentcore/internal/rules"
	"github.com/canvasflow/agentcore/internal/sync"
	"github.com/canvasflow/agentcore/internal/tracing"
	"go.uber.org/zap"
)

// Ports bundles the external collaborators the core coordinates. Any
// field may be left nil: with no Workflow, ForwardSync counts validated
// decisions but delivers them nowhere and the Failure orchestrator's
// retries short-circuit; with no KnowledgeRetriever, the Knowledge
// orchestrator's queries return empty results; with no LLM, the
// Conversation agent uses ports.NoopLLM; with no ToolRepository,
// QueryContext matches no tools.
type Ports struct {
	Workflow           ports.WorkflowAgentPort
	KnowledgeRetriever ports.KnowledgeRetrieverPort
	LLM                ports.LLMPort
	ToolRepository     ports.ToolRepositoryPort

	// Rules seeds the Rule Engine, e.g. hand-written predicates or rules
	// built with rules.RegoRule for policy-as-code validation; both sort
	// into the same priority-ordered list.
	Rules []rules.Rule

	// ConfigDir, when non-empty, is watched by a config.ConfigManager for
	// policy_chain.yaml and failure_orchestrator.yaml changes: editing
	// either file hot-reloads the Policy Chain's supervised decision types
	// or the Failure Orchestrator's retry policy without a process
	// restart. Left empty, no directory is watched and both stay fixed at
	// the values cfg was constructed with.
	ConfigDir string
}

// App is the assembled system. Its exported fields are the components a
// caller needs direct access to (publishing events, querying state,
// driving canvas edits); the rest are internal wiring.
type App struct {
	Config       *config.CoreConfig
	Bus          *events.Bus
	Coordinator  *coordinator.Coordinator
	PolicyChain  *policychain.Chain
	Conversation *conversation.Agent
	Forward      *sync.ForwardSync
	Reverse      *sync.ReverseSync
	Canvas       *sync.CanvasSync
	Failure      *failure.Orchestrator
	Knowledge    *knowledge.Orchestrator
	ToolRepo     ports.ToolRepositoryPort

	workflowBreaker  *coordinator.BreakerWorkflowAgent
	knowledgeBreaker *coordinator.BreakerKnowledgeRetriever
	configManager    *config.ConfigManager
	logger           *zap.Logger
}

// New assembles an App from cfg, sessionID (the Conversation agent's
// identity), and the external ports. cfg may be nil, in which case
// config.Defaults() is used. logger may be nil, in which case a no-op
// logger is used throughout.
func New(cfg *config.CoreConfig, sessionID string, p Ports, logger *zap.Logger) *App {
	if cfg == nil {
		defaults := config.Defaults()
		cfg = &defaults
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Sugar().Warnw("tracing initialization failed, spans stay no-op", "error", err)
	}

	bus := events.New(
		events.WithLogCapacity(cfg.EventBus.LogCapacity),
		events.WithLogger(logger),
	)

	engine := rules.NewEngine(p.Rules...)

	var workflowAgent ports.WorkflowAgentPort = p.Workflow
	var workflowBreaker *coordinator.BreakerWorkflowAgent
	if p.Workflow != nil {
		workflowBreaker = coordinator.NewBreakerWorkflowAgent(p.Workflow, breakerConfig(cfg.WorkflowAgentBreaker), logger)
		workflowAgent = workflowBreaker
	}
	var knowledgeRetriever ports.KnowledgeRetrieverPort = p.KnowledgeRetriever
	var knowledgeBreaker *coordinator.BreakerKnowledgeRetriever
	if p.KnowledgeRetriever != nil {
		knowledgeBreaker = coordinator.NewBreakerKnowledgeRetriever(p.KnowledgeRetriever, breakerConfig(cfg.KnowledgeRetrieverBreaker), logger)
		knowledgeRetriever = knowledgeBreaker
	}

	coord := coordinator.New(bus, engine,
		coordinator.WithCompressionEnabled(true),
		coordinator.WithLogger(logger),
	)

	chain := policychain.New(coord, bus,
		policychain.WithSupervisedTypes(cfg.PolicyChain.SupervisedTypes...),
		policychain.WithFailClosed(cfg.PolicyChain.FailClosed),
		policychain.WithLogger(logger),
	)
	bus.AddMiddleware(chain.AsMiddleware())

	llm := p.LLM
	if llm == nil {
		llm = ports.NoopLLM{}
	}
	convo := conversation.New(sessionID, bus, conversation.WithLogger(logger), conversation.WithLLM(llm))

	forward := sync.NewForwardSync(bus, workflowAgent, logger)
	reverse := sync.NewReverseSync(bus, convo, logger)
	canvas := sync.NewCanvasSync(bus, convo, logger)

	retryPolicy := failure.RetryPolicy{
		MaxRetries:         cfg.FailureOrchestrator.MaxRetries,
		BaseDelay:          cfg.FailureOrchestrator.BaseDelayDuration(),
		MaxDelay:           cfg.FailureOrchestrator.MaxDelayDuration(),
		Factor:             cfg.FailureOrchestrator.Factor,
		Jitter:             cfg.FailureOrchestrator.JitterDuration(),
		ExponentialBackoff: true,
	}
	orchestrator := failure.New(workflowAgent, bus,
		failure.WithRetryPolicy(retryPolicy),
		failure.WithLogger(logger),
	)

	know := knowledge.New(knowledgeRetriever, coord,
		knowledge.WithAutoTriggers(cfg.Compression.KnowledgeAutoTrigger),
		knowledge.WithTopK(cfg.Compression.KnowledgeTopK),
	)

	a := &App{
		Config:           cfg,
		Bus:              bus,
		Coordinator:      coord,
		PolicyChain:      chain,
		Conversation:     convo,
		Forward:          forward,
		Reverse:          reverse,
		Canvas:           canvas,
		Failure:          orchestrator,
		Knowledge:        know,
		ToolRepo:         p.ToolRepository,
		workflowBreaker:  workflowBreaker,
		knowledgeBreaker: knowledgeBreaker,
		logger:           logger,
	}
	a.subscribeKnowledgeTriggers()
	if p.ConfigDir != "" {
		a.configManager = bindConfigManager(p.ConfigDir, chain, orchestrator, retryPolicy, logger)
	}
	return a
}

// bindConfigManager starts a config.ConfigManager watching dir and
// registers the Policy Chain's and Failure Orchestrator's hot-reload
// handlers on it: editing policy_chain.yaml's supervised_types list calls
// chain.SetSupervisedTypes, and editing failure_orchestrator.yaml's
// retry fields calls orchestrator.SetRetryPolicy with the reloaded fields
// overlaid onto base, the policy the orchestrator was built with; fields
// absent from the file keep base's values. A ConfigManager that fails to construct or start is logged and
// skipped — hot-reload is an optional convenience, never load-bearing for
// the rest of the system.
func bindConfigManager(dir string, chain *policychain.Chain, orchestrator *failure.Orchestrator, base failure.RetryPolicy, logger *zap.Logger) *config.ConfigManager {
	cm, err := config.NewConfigManager(dir, logger)
	if err != nil {
		logger.Sugar().Warnw("config manager unavailable, hot-reload disabled", "config_dir", dir, "error", err)
		return nil
	}

	cm.RegisterHandler("policy_chain.yaml", func(event config.ChangeEvent) error {
		raw, ok := event.Config["supervised_types"].([]interface{})
		if !ok {
			return nil
		}
		types := make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok {
				types = append(types, s)
			}
		}
		if len(types) == 0 {
			return nil
		}
		chain.SetSupervisedTypes(types...)
		logger.Info("policy chain supervised types hot-reloaded", zap.Strings("supervised_types", types))
		return nil
	})

	cm.RegisterHandler("failure_orchestrator.yaml", func(event config.ChangeEvent) error {
		policy := base
		if v, ok := configInt(event.Config["max_retries"]); ok {
			policy.MaxRetries = v
		}
		if v, ok := configDuration(event.Config["base_delay"]); ok {
			policy.BaseDelay = v
		}
		if v, ok := configDuration(event.Config["max_delay"]); ok {
			policy.MaxDelay = v
		}
		if v, ok := configFloat(event.Config["factor"]); ok {
			policy.Factor = v
		}
		if v, ok := configDuration(event.Config["jitter"]); ok {
			policy.Jitter = v
		}
		orchestrator.SetRetryPolicy(policy)
		logger.Info("failure orchestrator retry policy hot-reloaded",
			zap.Int("max_retries", policy.MaxRetries),
			zap.Duration("base_delay", policy.BaseDelay),
			zap.Duration("max_delay", policy.MaxDelay),
			zap.Float64("factor", policy.Factor))
		return nil
	})

	if err := cm.Start(context.Background()); err != nil {
		logger.Sugar().Warnw("config manager failed to start, hot-reload disabled", "config_dir", dir, "error", err)
		return nil
	}
	return cm
}

// configInt decodes a hot-reloaded numeric field that may arrive as any of
// YAML's int, JSON's float64, or int64, matching loadConfigFile's
// format-agnostic unmarshal in internal/config.
func configInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func configFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// configDuration decodes a hot-reloaded delay/jitter field given as a
// Go duration string (e.g. "2s"), matching config.FailureOrchestratorConfig's
// own string-typed duration fields.
func configDuration(v any) (time.Duration, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Close stops the ConfigManager's file watcher, if one was started. Safe
// to call when ConfigDir was never set.
func (a *App) Close() error {
	if a.configManager == nil {
		return nil
	}
	return a.configManager.Stop()
}

func breakerConfig(c config.CircuitBreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		MaxRequests:      c.MaxRequests,
		Interval:         c.IntervalDuration(),
		Timeout:          c.TimeoutDuration(),
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
	}
}

// subscribeKnowledgeTriggers bridges the node-failure and
// reflection-completed auto-trigger points the Knowledge orchestrator
// exposes as plain methods (it does not subscribe to the bus itself,
// since callers may also drive it synchronously from a REPLAN path)
// into bus subscriptions, so a deployed App enriches context without
// any caller having to remember to invoke them.
func (a *App) subscribeKnowledgeTriggers() {
	events.Subscribe(a.Bus, func(e events.NodeExecutionEvent) {
		if e.Status != events.NodeFailed {
			return
		}
		if err := a.Knowledge.HandleNodeFailureWithKnowledge(context.Background(), e.WorkflowID, e.NodeID, "node_failure", e.Error); err != nil {
			a.logger.Sugar().Warnw("knowledge auto-trigger failed on node failure",
				"workflow_id", e.WorkflowID, "node_id", e.NodeID, "error", err)
		}
	})
	events.Subscribe(a.Bus, func(e events.WorkflowReflectionCompleted) {
		if err := a.Knowledge.HandleReflectionWithKnowledge(context.Background(), e.WorkflowID, "", e.Assessment); err != nil {
			a.logger.Sugar().Warnw("knowledge auto-trigger failed on reflection completed",
				"workflow_id", e.WorkflowID, "error", err)
		}
	})
}

// Statistics is the aggregate, cross-package view an operator dashboard
// would poll: one snapshot drawn from every wired component's own
// counters.
type Statistics struct {
	System             coordinator.SystemStatus
	PolicyChain        policychain.Stats
	DecisionsForwarded int
	CircuitBreakers    CircuitBreakerStatus
}

// CircuitBreakerStatus reports the current state of the two collaborator
// breakers the Coordinator wraps. A breaker field reads StateClosed when
// its port was never wired (nothing to trip).
type CircuitBreakerStatus struct {
	WorkflowAgent      circuitbreaker.State
	KnowledgeRetriever circuitbreaker.State
}

// Statistics assembles a Statistics snapshot from the Coordinator, the
// Policy Chain, and ForwardSync's counters.
func (a *App) Statistics() Statistics {
	stats := Statistics{
		System:             a.Coordinator.GetSystemStatus(),
		PolicyChain:        a.PolicyChain.Statistics(),
		DecisionsForwarded: a.Forward.DecisionsForwarded(),
	}
	stats.CircuitBreakers.WorkflowAgent = circuitbreaker.StateClosed
	if a.workflowBreaker != nil {
		stats.CircuitBreakers.WorkflowAgent = a.workflowBreaker.State()
	}
	stats.CircuitBreakers.KnowledgeRetriever = circuitbreaker.StateClosed
	if a.knowledgeBreaker != nil {
		stats.CircuitBreakers.KnowledgeRetriever = a.knowledgeBreaker.State()
	}
	return stats
}

// QueryContext is the synchronous ContextService façade: it delegates to
// the Coordinator using the App's wired tool repository.
func (a *App) QueryContext(userInput, workflowID string) coordinator.ContextResponse {
	return a.Coordinator.QueryContext(userInput, workflowID, a.ToolRepo)
}

// QueryContextAsync is QueryContext's knowledge-enriched variant.
func (a *App) QueryContextAsync(ctx context.Context, userInput, workflowID string) (coordinator.ContextResponse, error) {
	return a.Coordinator.QueryContextAsync(ctx, userInput, workflowID, a.ToolRepo, a.Knowledge)
}
