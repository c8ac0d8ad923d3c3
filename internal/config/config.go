// Package config loads master and agent configuration from defaults,
// an optional config file, and TREEMOVER_* environment variables, in
// increasing order of precedence.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/pkg/model"
	"github.com/treemover/treemover/pkg/protocol"
)

// MasterConfig configures the master control plane.
type MasterConfig struct {
	ControlAddress string `mapstructure:"control_address"`
	StorePath      string `mapstructure:"store_path"` // empty keeps progress in memory
	LogLevel       string `mapstructure:"log_level"`
}

// AgentConfig configures one transfer agent daemon.
type AgentConfig struct {
	AgentID     string `mapstructure:"agent_id"`
	Role        string `mapstructure:"role"`
	MasterURL   string `mapstructure:"master_url"`
	BindAddress string `mapstructure:"bind_address"`
	DataAddress string `mapstructure:"data_address"`
	DataPort    int    `mapstructure:"data_port"`
	DestRoot    string `mapstructure:"dest_root"`
	Parallelism int    `mapstructure:"parallelism"`
	LogLevel    string `mapstructure:"log_level"`
}

func newViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("TREEMOVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, faults.Wrap(faults.KindConfiguration, err, "read config file")
		}
	}
	return v, nil
}

// LoadMaster resolves the master configuration. cfgFile may be empty.
func LoadMaster(cfgFile string) (MasterConfig, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return MasterConfig{}, err
	}
	v.SetDefault("control_address", ":8080")
	v.SetDefault("store_path", "")
	v.SetDefault("log_level", "info")

	var cfg MasterConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return MasterConfig{}, faults.Wrap(faults.KindConfiguration, err, "decode master config")
	}
	if err := cfg.Validate(); err != nil {
		return MasterConfig{}, err
	}
	return cfg, nil
}

// Validate checks the master configuration.
func (c MasterConfig) Validate() error {
	if c.ControlAddress == "" {
		return faults.Config("control address is required")
	}
	return nil
}

// LoadAgent resolves the agent configuration. cfgFile may be empty.
func LoadAgent(cfgFile string) (AgentConfig, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return AgentConfig{}, err
	}
	// Every key gets a default so environment-only values are visible to
	// Unmarshal.
	v.SetDefault("agent_id", "")
	v.SetDefault("role", protocol.RoleSource)
	v.SetDefault("master_url", "")
	v.SetDefault("bind_address", "")
	v.SetDefault("data_address", "")
	v.SetDefault("data_port", model.DefaultDataPort)
	v.SetDefault("dest_root", "")
	v.SetDefault("parallelism", model.DefaultParallelism)
	v.SetDefault("log_level", "info")

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AgentConfig{}, faults.Wrap(faults.KindConfiguration, err, "decode agent config")
	}
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// Validate checks the agent configuration.
func (c AgentConfig) Validate() error {
	if c.AgentID == "" {
		return faults.Config("agent id is required")
	}
	if c.MasterURL == "" {
		return faults.Config("master url is required")
	}
	if c.Role != protocol.RoleSource && c.Role != protocol.RoleDestination {
		return faults.Configf("role must be %q or %q, got %q", protocol.RoleSource, protocol.RoleDestination, c.Role)
	}
	if c.Role == protocol.RoleDestination && c.DestRoot == "" {
		return faults.Config("dest root is required for destination agents")
	}
	if c.Parallelism < 1 {
		return faults.Configf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	return nil
}
