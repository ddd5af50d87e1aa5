package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConfigManager_LoadsExistingFilesOnStart(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "policy_chain.yaml", "supervised_types:\n  - tool_call\n  - create_node\n")

	cm, err := NewConfigManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, cm.Start(context.Background()))
	defer cm.Stop()

	cfg, ok := cm.GetConfig("policy_chain.yaml")
	require.True(t, ok)
	types, ok := cfg["supervised_types"].([]interface{})
	require.True(t, ok)
	assert.ElementsMatch(t, []interface{}{"tool_call", "create_node"}, types)
}

func TestConfigManager_SetConfigNotifiesHandlers(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewConfigManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, cm.Start(context.Background()))
	defer cm.Stop()

	received := make(chan ChangeEvent, 1)
	cm.RegisterHandler("failure_orchestrator.yaml", func(event ChangeEvent) error {
		received <- event
		return nil
	})

	require.NoError(t, cm.SetConfig("failure_orchestrator.yaml", map[string]interface{}{
		"max_retries": 5,
		"factor":      3.0,
	}))

	select {
	case event := <-received:
		assert.Equal(t, "failure_orchestrator.yaml", event.File)
		assert.Equal(t, "programmatic_set", event.Action)
		assert.Equal(t, 5, event.Config["max_retries"])
	case <-time.After(time.Second):
		t.Fatal("handler was not notified")
	}
}

func TestConfigManager_ValidatorRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewConfigManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	cm.RegisterValidator("policy_chain.yaml", func(cfg map[string]interface{}) error {
		if _, ok := cfg["supervised_types"]; !ok {
			return assert.AnError
		}
		return nil
	})

	err = cm.SetConfig("policy_chain.yaml", map[string]interface{}{"fail_closed": true})
	assert.Error(t, err)
}

func TestConfigManager_ReloadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "policy_chain.yaml", "fail_closed: true\n")

	cm, err := NewConfigManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, cm.Start(context.Background()))
	defer cm.Stop()

	require.NoError(t, os.WriteFile(path, []byte("fail_closed: false\n"), 0o644))
	require.NoError(t, cm.ReloadConfig("policy_chain.yaml"))

	cfg, ok := cm.GetConfig("policy_chain.yaml")
	require.True(t, ok)
	assert.Equal(t, false, cfg["fail_closed"])
}

func writeYAML(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
