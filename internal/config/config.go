// Package config loads and validates the host configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding field is absent.
const (
	DefaultMaxTokens        = 4096
	DefaultMaxIterations    = 10
	DefaultCallTimeout      = 30 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultLogPath          = "logs/mcp_interactions.log.jsonl"
)

// ServerConfig describes one MCP server to spawn over stdio.
type ServerConfig struct {
	ID      string            `yaml:"id"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in the config file.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	// BaseURL overrides the provider endpoint, for OpenAI-compatible
	// gateways.
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

// ChatConfig tunes the conversation loop.
type ChatConfig struct {
	MaxIterations int    `yaml:"max_iterations,omitempty"`
	SystemPrompt  string `yaml:"system_prompt,omitempty"`
}

// TimeoutConfig bounds per-request waits, in seconds.
type TimeoutConfig struct {
	CallSeconds      int `yaml:"call_seconds,omitempty"`
	HandshakeSeconds int `yaml:"handshake_seconds,omitempty"`
}

// LogConfig controls the interaction log.
type LogConfig struct {
	Interactions string `yaml:"interactions,omitempty"`
}

// Config is the root configuration.
type Config struct {
	Servers  []ServerConfig `yaml:"servers"`
	LLM      LLMConfig      `yaml:"llm"`
	Chat     ChatConfig     `yaml:"chat,omitempty"`
	Timeouts TimeoutConfig  `yaml:"timeouts,omitempty"`
	Log      LogConfig      `yaml:"log,omitempty"`
}

// Default returns a config with all defaults filled and no servers.
// APIKeyEnv is left empty here: it depends on the provider the file
// ends up selecting, so applyDefaults derives it after parsing.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: DefaultMaxTokens,
		},
		Chat: ChatConfig{
			MaxIterations: DefaultMaxIterations,
		},
		Log: LogConfig{
			Interactions: DefaultLogPath,
		},
	}
}

// SearchPaths returns the locations Load probes when no explicit path
// is given, in priority order.
func SearchPaths() []string {
	paths := []string{"mcphost.yaml", "mcphost.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "mcphost", "config.yaml"),
			filepath.Join(home, ".mcphost.yaml"),
		)
	}
	return paths
}

// Load reads the config from path, or from the first search path that
// exists when path is empty. A missing config yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			cfg := Default()
			cfg.applyDefaults()
			return cfg, nil
		}
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates the config at a specific path.
func LoadFrom(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.Chat.MaxIterations <= 0 {
		c.Chat.MaxIterations = DefaultMaxIterations
	}
	if c.Log.Interactions == "" {
		c.Log.Interactions = DefaultLogPath
	}
	if c.LLM.APIKeyEnv == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKeyEnv = "OPENAI_API_KEY"
		default:
			c.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
}

// Validate checks the config for problems that would only surface
// later as confusing runtime failures.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai":
	case "":
		return fmt.Errorf("llm.provider is required")
	default:
		return fmt.Errorf("unknown llm.provider %q (want anthropic or openai)", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	seen := make(map[string]bool)
	for i, srv := range c.Servers {
		if srv.ID == "" {
			return fmt.Errorf("servers[%d]: id is required", i)
		}
		if seen[srv.ID] {
			return fmt.Errorf("duplicate server id %q", srv.ID)
		}
		seen[srv.ID] = true
		if srv.Command == "" {
			return fmt.Errorf("server %q: command is required", srv.ID)
		}
	}

	if c.Timeouts.CallSeconds < 0 || c.Timeouts.HandshakeSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// CallTimeout returns the per-call timeout as a duration.
func (c *Config) CallTimeout() time.Duration {
	if c.Timeouts.CallSeconds > 0 {
		return time.Duration(c.Timeouts.CallSeconds) * time.Second
	}
	return DefaultCallTimeout
}

// HandshakeTimeout returns the handshake timeout as a duration.
func (c *Config) HandshakeTimeout() time.Duration {
	if c.Timeouts.HandshakeSeconds > 0 {
		return time.Duration(c.Timeouts.HandshakeSeconds) * time.Second
	}
	return DefaultHandshakeTimeout
}

// APIKey reads the provider API key from the configured environment
// variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}
