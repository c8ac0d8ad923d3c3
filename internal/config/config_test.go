package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/pkg/model"
	"github.com/treemover/treemover/pkg/protocol"
)

func TestLoadMasterDefaults(t *testing.T) {
	cfg, err := LoadMaster("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ControlAddress)
	assert.Empty(t, cfg.StorePath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadMasterFromEnv(t *testing.T) {
	t.Setenv("TREEMOVER_CONTROL_ADDRESS", ":9090")
	t.Setenv("TREEMOVER_STORE_PATH", "/var/lib/treemover/progress.db")

	cfg, err := LoadMaster("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ControlAddress)
	assert.Equal(t, "/var/lib/treemover/progress.db", cfg.StorePath)
}

func TestLoadAgentFromEnv(t *testing.T) {
	t.Setenv("TREEMOVER_AGENT_ID", "agent-7")
	t.Setenv("TREEMOVER_ROLE", protocol.RoleDestination)
	t.Setenv("TREEMOVER_MASTER_URL", "ws://master:8080/ws")
	t.Setenv("TREEMOVER_DEST_ROOT", "/data/incoming")

	cfg, err := LoadAgent("")
	require.NoError(t, err)
	assert.Equal(t, "agent-7", cfg.AgentID)
	assert.Equal(t, protocol.RoleDestination, cfg.Role)
	assert.Equal(t, "ws://master:8080/ws", cfg.MasterURL)
	assert.Equal(t, "/data/incoming", cfg.DestRoot)
	assert.Equal(t, model.DefaultDataPort, cfg.DataPort)
	assert.Equal(t, model.DefaultParallelism, cfg.Parallelism)
}

func TestLoadAgentFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent_id: agent-1
role: source
master_url: ws://10.0.0.1:8080/ws
parallelism: 8
`), 0o644))

	cfg, err := LoadAgent(path)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", cfg.AgentID)
	assert.Equal(t, protocol.RoleSource, cfg.Role)
	assert.Equal(t, 8, cfg.Parallelism)
}

func TestLoadAgentEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent_id: agent-1
role: source
master_url: ws://10.0.0.1:8080/ws
`), 0o644))
	t.Setenv("TREEMOVER_AGENT_ID", "agent-override")

	cfg, err := LoadAgent(path)
	require.NoError(t, err)
	assert.Equal(t, "agent-override", cfg.AgentID)
}

func TestLoadAgentValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing agent id", map[string]string{
			"TREEMOVER_MASTER_URL": "ws://m/ws",
		}},
		{"missing master url", map[string]string{
			"TREEMOVER_AGENT_ID": "a",
		}},
		{"bad role", map[string]string{
			"TREEMOVER_AGENT_ID":   "a",
			"TREEMOVER_MASTER_URL": "ws://m/ws",
			"TREEMOVER_ROLE":       "spectator",
		}},
		{"destination without dest root", map[string]string{
			"TREEMOVER_AGENT_ID":   "a",
			"TREEMOVER_MASTER_URL": "ws://m/ws",
			"TREEMOVER_ROLE":       protocol.RoleDestination,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadAgent("")
			require.Error(t, err)
			assert.True(t, faults.IsConfiguration(err))
		})
	}
}

func TestLoadMasterMissingFile(t *testing.T) {
	_, err := LoadMaster(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, faults.IsConfiguration(err))
}
