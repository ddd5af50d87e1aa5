package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.True(t, cfg.PolicyChain.FailClosed)
	assert.Equal(t, 0.5, cfg.PolicyChain.RejectionRateThreshold)
	assert.Contains(t, cfg.PolicyChain.SupervisedTypes, "tool_call")

	assert.Equal(t, 3, cfg.FailureOrchestrator.MaxRetries)
	assert.Equal(t, time.Second, cfg.FailureOrchestrator.BaseDelayDuration())
	assert.Equal(t, 60*time.Second, cfg.FailureOrchestrator.MaxDelayDuration())
	assert.Equal(t, 2.0, cfg.FailureOrchestrator.Factor)

	assert.Equal(t, 500, cfg.Compression.MaxSegmentLength)
	assert.Equal(t, 10000, cfg.EventBus.LogCapacity)

	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "agentcore", cfg.Tracing.ServiceName)
}

func TestFailureOrchestratorConfig_DurationFallbacks(t *testing.T) {
	f := FailureOrchestratorConfig{BaseDelay: "not-a-duration", MaxDelay: ""}
	assert.Equal(t, time.Second, f.BaseDelayDuration())
	assert.Equal(t, 60*time.Second, f.MaxDelayDuration())
	assert.Equal(t, time.Duration(0), f.JitterDuration())
}

func TestCircuitBreakerConfig_DurationFallbacks(t *testing.T) {
	c := CircuitBreakerConfig{}
	assert.Equal(t, 30*time.Second, c.IntervalDuration())
	assert.Equal(t, 15*time.Second, c.TimeoutDuration())

	c2 := CircuitBreakerConfig{Interval: "5s", Timeout: "2s"}
	assert.Equal(t, 5*time.Second, c2.IntervalDuration())
	assert.Equal(t, 2*time.Second, c2.TimeoutDuration())
}

func TestLoad_DefaultsWhenNoFilePresent(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-core.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults().PolicyChain.SupervisedTypes, cfg.PolicyChain.SupervisedTypes)
	assert.Equal(t, 3, cfg.FailureOrchestrator.MaxRetries)
}

func TestLoad_ReadsYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.yaml")
	yaml := `
policy_chain:
  fail_closed: false
  rejection_rate_threshold: 0.75
failure_orchestrator:
  max_retries: 7
compression:
  max_segment_length: 250
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.PolicyChain.FailClosed)
	assert.Equal(t, 0.75, cfg.PolicyChain.RejectionRateThreshold)
	assert.Equal(t, 7, cfg.FailureOrchestrator.MaxRetries)
	assert.Equal(t, 250, cfg.Compression.MaxSegmentLength)
}

func TestLoad_EnvOverridesLogLevel(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-core.yaml"))
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestMetricsPort(t *testing.T) {
	t.Setenv("METRICS_PORT", "")
	assert.Equal(t, 9090, MetricsPort(9090))

	t.Setenv("METRICS_PORT", "9191")
	assert.Equal(t, 9191, MetricsPort(9090))

	t.Setenv("METRICS_PORT", "not-a-number")
	assert.Equal(t, 9090, MetricsPort(9090))
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{
		"true": true, "1": true, "yes": true, "on": true,
		"false": false, "0": false, "no": false, "off": false,
		"garbage": false, "2": true,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseBool(in), "input %q", in)
	}
}
