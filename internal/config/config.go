package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PolicyChainConfig holds the Coordinator Policy Chain's tunables: which
// decision types are supervised, whether missing infrastructure fails
// closed, and the rejection-rate alarm thresholds.
type PolicyChainConfig struct {
	SupervisedTypes        []string `mapstructure:"supervised_types"`
	FailClosed             bool     `mapstructure:"fail_closed"`
	RejectionRateThreshold float64  `mapstructure:"rejection_rate_threshold"`
	SamplingFloor          int      `mapstructure:"sampling_floor"`
}

// FailureOrchestratorConfig holds the retry schedule's tunables, defaulting
// to max_retries=3, base_delay=1s, max_delay=60s, factor=2.0.
type FailureOrchestratorConfig struct {
	MaxRetries int     `mapstructure:"max_retries"`
	BaseDelay  string  `mapstructure:"base_delay"`
	MaxDelay   string  `mapstructure:"max_delay"`
	Factor     float64 `mapstructure:"factor"`
	Jitter     string  `mapstructure:"jitter"`
}

// BaseDelayDuration parses BaseDelay, falling back to 1s on a bad value.
func (f FailureOrchestratorConfig) BaseDelayDuration() time.Duration {
	return parseDurationOr(f.BaseDelay, time.Second)
}

// MaxDelayDuration parses MaxDelay, falling back to 60s on a bad value.
func (f FailureOrchestratorConfig) MaxDelayDuration() time.Duration {
	return parseDurationOr(f.MaxDelay, 60*time.Second)
}

// JitterDuration parses Jitter, falling back to 0 on a bad or empty value.
func (f FailureOrchestratorConfig) JitterDuration() time.Duration {
	return parseDurationOr(f.Jitter, 0)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}

// CompressionConfig holds the configurable segment truncation length and
// the knowledge auto-trigger enablement flag.
type CompressionConfig struct {
	MaxSegmentLength     int  `mapstructure:"max_segment_length"`
	KnowledgeAutoTrigger bool `mapstructure:"knowledge_auto_trigger"`
	KnowledgeTopK        int  `mapstructure:"knowledge_top_k"`
}

// EventBusConfig bounds the in-memory audit log's ring buffer capacity.
type EventBusConfig struct {
	LogCapacity int `mapstructure:"log_capacity"`
}

// CircuitBreakerConfig mirrors the per-collaborator circuit breaker knobs
// the Coordinator wraps ports.WorkflowAgentPort and
// ports.KnowledgeRetrieverPort calls in.
type CircuitBreakerConfig struct {
	MaxRequests      uint32 `mapstructure:"max_requests"`
	Interval         string `mapstructure:"interval"`
	Timeout          string `mapstructure:"timeout"`
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
	SuccessThreshold uint32 `mapstructure:"success_threshold"`
}

// IntervalDuration parses Interval, falling back to 30s.
func (c CircuitBreakerConfig) IntervalDuration() time.Duration {
	return parseDurationOr(c.Interval, 30*time.Second)
}

// TimeoutDuration parses Timeout, falling back to 15s.
func (c CircuitBreakerConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 15*time.Second)
}

// TracingConfig mirrors internal/tracing.Config, duplicated here so
// internal/config carries no import-cycle-risking dependency on
// internal/tracing.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// CoreConfig is the root configuration for the coordination core: every
// tunable exposed as configuration lives here, loaded with viper and
// hot-reloadable through ConfigManager's fsnotify watch.
type CoreConfig struct {
	PolicyChain               PolicyChainConfig         `mapstructure:"policy_chain"`
	FailureOrchestrator       FailureOrchestratorConfig `mapstructure:"failure_orchestrator"`
	Compression               CompressionConfig         `mapstructure:"compression"`
	EventBus                  EventBusConfig            `mapstructure:"event_bus"`
	WorkflowAgentBreaker      CircuitBreakerConfig      `mapstructure:"workflow_agent_breaker"`
	KnowledgeRetrieverBreaker CircuitBreakerConfig      `mapstructure:"knowledge_retriever_breaker"`
	Tracing                   TracingConfig             `mapstructure:"tracing"`
	LogLevel                  string                    `mapstructure:"log_level"`
}

// Defaults returns the fixed fallback configuration used when no file or
// env override is present.
func Defaults() CoreConfig {
	return CoreConfig{
		PolicyChain: PolicyChainConfig{
			SupervisedTypes:        []string{"api_request", "create_node", "file_operation", "human_interaction", "tool_call"},
			FailClosed:             true,
			RejectionRateThreshold: 0.5,
			SamplingFloor:          1,
		},
		FailureOrchestrator: FailureOrchestratorConfig{
			MaxRetries: 3,
			BaseDelay:  "1s",
			MaxDelay:   "60s",
			Factor:     2.0,
		},
		Compression: CompressionConfig{
			MaxSegmentLength:     500,
			KnowledgeAutoTrigger: true,
			KnowledgeTopK:        5,
		},
		EventBus: EventBusConfig{LogCapacity: 10000},
		WorkflowAgentBreaker: CircuitBreakerConfig{
			MaxRequests: 5, Interval: "30s", Timeout: "15s", FailureThreshold: 5, SuccessThreshold: 2,
		},
		KnowledgeRetrieverBreaker: CircuitBreakerConfig{
			MaxRequests: 3, Interval: "60s", Timeout: "10s", FailureThreshold: 3, SuccessThreshold: 2,
		},
		Tracing:  TracingConfig{Enabled: false, ServiceName: "agentcore", OTLPEndpoint: "localhost:4317"},
		LogLevel: "info",
	}
}

// Load reads core.yaml from CONFIG_PATH, or /app/config/core.yaml, or
// config/core.yaml if present, then layers AGENTCORE_-prefixed env var
// overrides on top of the result.
func Load() (*CoreConfig, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		if _, err := os.Stat("/app/config/core.yaml"); err == nil {
			cfgPath = "/app/config/core.yaml"
		} else {
			cfgPath = "config/core.yaml"
		}
	}
	if info, err := os.Stat(cfgPath); err == nil && info.IsDir() {
		cfgPath = filepath.Join(cfgPath, "core.yaml")
	}

	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return &cfg, nil
}

// MetricsPort returns an env override METRICS_PORT, falling back to
// defaultPort when unset or unparsable.
func MetricsPort(defaultPort int) int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			return v
		}
	}
	return defaultPort
}

// ParseBool converts common string representations to bool, matching the
// teacher's lenient env-var parsing in internal/config.
func ParseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n != 0
		}
	}
	return false
}
