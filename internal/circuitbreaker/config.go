package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// CircuitBreakerConfig represents configuration for a circuit breaker
// before OnStateChange is wired in by the caller.
type CircuitBreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// GetWorkflowAgentConfig returns circuit breaker configuration for
// ExecuteNodeWithResult calls against the Workflow agent collaborator.
func GetWorkflowAgentConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:      getEnvUint32("CB_WORKFLOW_AGENT_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_WORKFLOW_AGENT_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_WORKFLOW_AGENT_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_WORKFLOW_AGENT_FAILURE_THRESHOLD", 5),
		SuccessThreshold: getEnvUint32("CB_WORKFLOW_AGENT_SUCCESS_THRESHOLD", 2),
	}
}

// GetKnowledgeRetrieverConfig returns circuit breaker configuration for
// calls against the Knowledge Retriever collaborator.
func GetKnowledgeRetrieverConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:      getEnvUint32("CB_KNOWLEDGE_MAX_REQUESTS", 3),
		Interval:         getEnvDuration("CB_KNOWLEDGE_INTERVAL", 60*time.Second),
		Timeout:          getEnvDuration("CB_KNOWLEDGE_TIMEOUT", 10*time.Second),
		FailureThreshold: getEnvUint32("CB_KNOWLEDGE_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_KNOWLEDGE_SUCCESS_THRESHOLD", 2),
	}
}

// ToConfig converts CircuitBreakerConfig to circuit breaker Config.
// OnStateChange is left nil for the caller to set.
func (cbc CircuitBreakerConfig) ToConfig() Config {
	return Config{
		MaxRequests:      cbc.MaxRequests,
		Interval:         cbc.Interval,
		Timeout:          cbc.Timeout,
		FailureThreshold: cbc.FailureThreshold,
		SuccessThreshold: cbc.SuccessThreshold,
		OnStateChange:    nil,
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
