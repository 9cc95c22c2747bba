// Package config loads termguard's ambient application settings — data
// directory, default policy path, log level, model endpoint, agent step
// budget — the way the teacher's internal/sys.ConfigManager does: a
// viper.Viper rooted at a dotfile directory under $HOME, defaults set before
// the file is read, mapstructure-tagged unmarshal target. This is distinct
// from internal/policy, which always parses the literal declarative JSON
// document spec.md §3 specifies.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds termguard's ambient settings, as opposed to the sandboxed
// tool policy loaded separately by internal/policy.
type Config struct {
	Model struct {
		Provider string `mapstructure:"provider"`
		Endpoint string `mapstructure:"endpoint"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"model"`

	Agent struct {
		MaxSteps     int    `mapstructure:"max_steps"`
		SystemPrompt string `mapstructure:"system_prompt"`
	} `mapstructure:"agent"`

	Policy struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"policy"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	DataDir string `mapstructure:"-"`
}

// Manager owns the loaded viper instance and supports re-saving.
type Manager struct {
	v *viper.Viper
}

// NewManager initializes the configuration system: ensures the data
// directory under $HOME/.termguard exists, seeds defaults, and reads (or
// creates) config.yaml. Environment variables prefixed TERMGUARD_ override
// any file value, following the same viper.AutomaticEnv pattern the teacher
// uses for its CLI flags layer.
func NewManager() (*Manager, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: resolving home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".termguard")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: creating data directory: %w", err)
	}

	v.SetDefault("model.provider", "ollama")
	v.SetDefault("model.endpoint", "http://localhost:11434")
	v.SetDefault("model.name", "llama3")
	v.SetDefault("agent.max_steps", 6)
	v.SetDefault("agent.system_prompt", "You are a terminal assistant. Respond with a single JSON object describing either a final answer or a tool call.")
	v.SetDefault("policy.path", filepath.Join(dataDir, "policy.json"))
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	v.SetEnvPrefix("TERMGUARD")
	v.AutomaticEnv()

	configPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := v.SafeWriteConfig(); err != nil {
			return nil, fmt.Errorf("config: writing initial config: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading config: %w", err)
	}

	return &Manager{v: v}, nil
}

// Load unmarshals the current configuration.
func (m *Manager) Load() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling config: %w", err)
	}

	home, _ := os.UserHomeDir()
	cfg.DataDir = filepath.Join(home, ".termguard")

	return &cfg, nil
}

// Save persists cfg back to config.yaml.
func (m *Manager) Save(cfg *Config) error {
	m.v.Set("model.provider", cfg.Model.Provider)
	m.v.Set("model.endpoint", cfg.Model.Endpoint)
	m.v.Set("model.name", cfg.Model.Name)
	m.v.Set("agent.max_steps", cfg.Agent.MaxSteps)
	m.v.Set("agent.system_prompt", cfg.Agent.SystemPrompt)
	m.v.Set("policy.path", cfg.Policy.Path)
	m.v.Set("log.level", cfg.Log.Level)

	return m.v.WriteConfig()
}

// DataPath returns a path inside the .termguard data directory.
func (m *Manager) DataPath(subpath string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".termguard", subpath)
}
