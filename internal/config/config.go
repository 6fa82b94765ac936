package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"toolenv/internal/env"
	"toolenv/internal/logger"
	"toolenv/internal/tool/builtin"
)

// Config represents the complete toolenv configuration
type Config struct {
	Env     EnvConfig     `yaml:"env"`
	Batch   BatchConfig   `yaml:"batch"`
	Tools   ToolsConfig   `yaml:"tools"`
	LLM     LLMConfig     `yaml:"llm"`
	Rollout RolloutConfig `yaml:"rollout"`
	Trace   TraceConfig   `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
	Hooks   HooksConfig   `yaml:"hooks"`
	MCP     MCPConfig     `yaml:"mcp"`
}

// EnvConfig bounds each episode. Unset penalties use the defaults; an
// explicit 0 disables a penalty.
type EnvConfig struct {
	MaxTurns           int      `yaml:"max_turns"`
	PenaltyInvalid     *float64 `yaml:"penalty_invalid"`
	PenaltyIneffective *float64 `yaml:"penalty_ineffective"`
}

// BatchConfig controls cross-episode batch dispatch
type BatchConfig struct {
	// Enabled routes each rollout round through the batch dispatcher
	Enabled bool `yaml:"enabled"`
	// Policy is "fail" or "per_index"
	Policy string `yaml:"policy"`
	// Concurrency caps tool groups executing at once (0 = unlimited)
	Concurrency int `yaml:"concurrency"`
}

// ToolsConfig selects and configures the built-in tools
type ToolsConfig struct {
	// Names lists tools to enable, or a single "all" / "none"
	Names      []string  `yaml:"names"`
	CorpusRoot string    `yaml:"corpus_root"`
	MaxMatches int       `yaml:"max_matches"`
	Lua        LuaConfig `yaml:"lua"`
}

// LuaConfig bounds the Lua interpreters
type LuaConfig struct {
	CallStackSize int `yaml:"call_stack_size"`
	RegistrySize  int `yaml:"registry_size"`
}

// LLMConfig configures the OpenAI-compatible endpoint used for rollouts
type LLMConfig struct {
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"` // supports ${VAR}
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// Seed, when set, is offset by the sample index for each episode
	Seed *int `yaml:"seed"`
}

// RolloutConfig controls the rollout loop
type RolloutConfig struct {
	// Samples is the number of episodes cloned from the template per task
	Samples       int    `yaml:"samples"`
	SystemPrompt  string `yaml:"system_prompt"`
	ResponseStart string `yaml:"response_start"`
	ResponseEnd   string `yaml:"response_end"`
	// Concurrency caps model requests in flight (0 = one per episode)
	Concurrency int `yaml:"concurrency"`
	// Retries is how often a rate-limited or failed model request is retried
	Retries int `yaml:"retries"`
}

// TraceConfig controls persistence of finished episodes
type TraceConfig struct {
	Dir string `yaml:"dir"` // empty disables traces
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr"` // e.g. ":9090"; empty disables the endpoint
}

// LogConfig controls console logging
type LogConfig struct {
	Level string `yaml:"level"`
	Color *bool  `yaml:"color"`
}

// HooksConfig contains hook-related settings
type HooksConfig struct {
	// DenyTools lists tools whose execution is refused
	DenyTools []string `yaml:"deny_tools"`
}

// MCPConfig contains MCP-specific settings
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig defines a single MCP server
type MCPServerConfig struct {
	Name      string            `yaml:"name"`      // Unique server identifier
	Transport string            `yaml:"transport"` // "stdio" (only supported initially)
	Command   string            `yaml:"command"`   // Executable to run
	Args      []string          `yaml:"args"`      // Command arguments
	Env       map[string]string `yaml:"env"`       // Environment variables with ${VAR} support
	Disabled  bool              `yaml:"disabled"`  // Skip this server if true
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and parses the YAML config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with fallback to default locations
// Checks: ./toolenv.yaml, ./configs/toolenv.yaml, ~/.config/toolenv/toolenv.yaml, /etc/toolenv/toolenv.yaml
func LoadWithDefaults() (*Config, error) {
	// Try config locations in order
	locations := []string{
		"./toolenv.yaml",
		"./configs/toolenv.yaml",
	}

	// Add user config directory if available
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".config", "toolenv", "toolenv.yaml"))
	}

	// Add system-wide config
	locations = append(locations, "/etc/toolenv/toolenv.yaml")

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return Load(loc)
		}
	}

	// No config found - defaults only (not an error)
	return Default(), nil
}

// ApplyDefaults fills every unset field
func (c *Config) ApplyDefaults() {
	if c.Env.MaxTurns == 0 {
		c.Env.MaxTurns = env.DefaultMaxTurns
	}
	if c.Env.PenaltyInvalid == nil {
		v := env.DefaultPenaltyInvalid
		c.Env.PenaltyInvalid = &v
	}
	if c.Env.PenaltyIneffective == nil {
		v := env.DefaultPenaltyIneffective
		c.Env.PenaltyIneffective = &v
	}

	if c.Batch.Policy == "" {
		c.Batch.Policy = env.PolicyFail.String()
	}

	if len(c.Tools.Names) == 0 {
		c.Tools.Names = []string{builtin.ToolsetAll}
	}
	if c.Tools.CorpusRoot == "" {
		c.Tools.CorpusRoot = "."
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = "${OPENAI_API_KEY}"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}

	if c.Rollout.Samples == 0 {
		c.Rollout.Samples = 1
	}
	if c.Rollout.ResponseStart == "" {
		c.Rollout.ResponseStart = "<tool_response>"
	}
	if c.Rollout.ResponseEnd == "" {
		c.Rollout.ResponseEnd = "</tool_response>"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks config correctness
func (c *Config) Validate() error {
	if c.Env.MaxTurns < 1 {
		return fmt.Errorf("env.max_turns must be positive, got %d", c.Env.MaxTurns)
	}

	if _, err := env.ParsePolicy(c.Batch.Policy); err != nil {
		return fmt.Errorf("batch.policy: %w", err)
	}
	if c.Batch.Concurrency < 0 {
		return fmt.Errorf("batch.concurrency cannot be negative")
	}

	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}

	if c.Rollout.Retries < 0 {
		return fmt.Errorf("rollout.retries cannot be negative")
	}
	if c.Rollout.Samples < 1 {
		return fmt.Errorf("rollout.samples must be positive, got %d", c.Rollout.Samples)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	// Check for duplicate server names
	names := make(map[string]bool)
	for i, server := range c.MCP.Servers {
		if server.Name == "" {
			return fmt.Errorf("server #%d: name cannot be empty", i+1)
		}

		if names[server.Name] {
			return fmt.Errorf("duplicate server name: %s", server.Name)
		}
		names[server.Name] = true

		// Validate server config
		if err := server.Validate(); err != nil {
			return fmt.Errorf("server %s: %w", server.Name, err)
		}
	}

	return nil
}

// Validate checks the tool selection
func (t *ToolsConfig) Validate() error {
	if len(t.Names) == 1 && (t.Names[0] == builtin.ToolsetAll || t.Names[0] == builtin.ToolsetNone) {
		return nil
	}
	for _, name := range t.Names {
		if !slices.Contains(builtin.Names, name) {
			return fmt.Errorf("unknown tool %q", name)
		}
	}
	if t.MaxMatches < 0 {
		return fmt.Errorf("max_matches cannot be negative")
	}
	return nil
}

// Options converts the tool settings for the builtin package, expanding
// ${VAR} references in the corpus root
func (t *ToolsConfig) Options() builtin.Options {
	return builtin.Options{
		CorpusRoot: ExpandEnv(t.CorpusRoot),
		MaxMatches: t.MaxMatches,
		Sandbox: builtin.SandboxOptions{
			CallStackSize: t.Lua.CallStackSize,
			RegistrySize:  t.Lua.RegistrySize,
		},
	}
}

// EnvConfig converts the episode settings for the env package
func (c *Config) EnvConfig() env.Config {
	cfg := env.DefaultConfig()
	cfg.MaxTurns = c.Env.MaxTurns
	if c.Env.PenaltyInvalid != nil {
		cfg.PenaltyInvalid = *c.Env.PenaltyInvalid
	}
	if c.Env.PenaltyIneffective != nil {
		cfg.PenaltyIneffective = *c.Env.PenaltyIneffective
	}
	return cfg
}

// Dispatcher builds the batch dispatcher settings
func (c *Config) Dispatcher() *env.Dispatcher {
	policy, _ := env.ParsePolicy(c.Batch.Policy)
	return &env.Dispatcher{Policy: policy, Concurrency: c.Batch.Concurrency}
}

// ResolvedAPIKey expands ${VAR} references in the API key
func (c *LLMConfig) ResolvedAPIKey() string {
	return ExpandEnv(c.APIKey)
}

// Validate checks a single server config
func (s *MCPServerConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	// Server names become tool name prefixes
	// Pattern: ^[a-zA-Z0-9_-]+$
	for _, ch := range s.Name {
		if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_' || ch == '-') {
			return fmt.Errorf("server name '%s' contains invalid character '%c' (only alphanumeric, underscore, and hyphen allowed)", s.Name, ch)
		}
	}

	if s.Transport == "" {
		return fmt.Errorf("transport is required")
	}

	if s.Transport != "stdio" {
		return fmt.Errorf("unsupported transport: %s (only 'stdio' is supported)", s.Transport)
	}

	if s.Command == "" {
		return fmt.Errorf("command is required")
	}

	return nil
}
