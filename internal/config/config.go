// Package config loads drover's YAML configuration: provider credentials,
// runtime defaults, and agent definitions.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/droverhq/drover/internal/agent"
)

// Config is the root configuration document.
type Config struct {
	// DefaultProvider names the backend used by agents that do not pick
	// one: "anthropic" or "openai".
	DefaultProvider string `yaml:"default_provider"`

	// DefaultModel is passed to the provider when an agent names none.
	DefaultModel string `yaml:"default_model,omitempty"`

	Providers ProvidersConfig `yaml:"providers"`

	Runtime RuntimeConfig `yaml:"runtime,omitempty"`

	Chunker ChunkerConfig `yaml:"chunker,omitempty"`

	// Memory configures the persistent key-value store tool.
	Memory MemoryConfig `yaml:"memory,omitempty"`

	// Agents maps agent name to definition. The name key is copied into
	// the definition on load.
	Agents map[string]*agent.Definition `yaml:"agents"`
}

// ProvidersConfig carries per-backend credentials.
type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic,omitempty"`
	OpenAI    ProviderConfig `yaml:"openai,omitempty"`
}

// ProviderConfig configures one backend.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`

	// MaxRetries bounds attempts for transient failures. Zero means the
	// runtime default of 3.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryDelay is the initial backoff. Zero means 100ms.
	RetryDelay time.Duration `yaml:"retry_delay,omitempty"`
}

// RuntimeConfig tunes loop and dispatch behavior.
type RuntimeConfig struct {
	// MaxTokens bounds each completion response.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration `yaml:"tool_timeout,omitempty"`

	// ParallelTools executes independent calls within an iteration
	// concurrently.
	ParallelTools bool `yaml:"parallel_tools,omitempty"`
}

// ChunkerConfig mirrors agent.ChunkerConfig with yaml tags.
type ChunkerConfig struct {
	Enabled        *bool `yaml:"enabled,omitempty"`
	ThresholdBytes int   `yaml:"threshold_bytes,omitempty"`
	ChunkSizeBytes int   `yaml:"chunk_size_bytes,omitempty"`
	MaxChunks      int   `yaml:"max_chunks,omitempty"`
}

// MemoryConfig locates the sqlite store backing the memory tools.
type MemoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Load reads, env-expands, parses, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes. ${VAR} references are expanded from the
// environment before parsing so secrets stay out of the file.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DefaultProvider == "" {
		c.DefaultProvider = "anthropic"
	}
	for name, def := range c.Agents {
		if def == nil {
			continue
		}
		if def.Name == "" {
			def.Name = name
		}
	}
}

// Validate checks the document and every agent definition.
func (c *Config) Validate() error {
	switch c.DefaultProvider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: unknown default_provider %q", c.DefaultProvider)
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: at least one agent must be defined")
	}
	for name, def := range c.Agents {
		if def == nil {
			return fmt.Errorf("config: agent %q has no body", name)
		}
		if def.Name != name {
			return fmt.Errorf("config: agent key %q does not match name %q", name, def.Name)
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		switch def.ProviderName {
		case "", "anthropic", "openai":
		default:
			return fmt.Errorf("config: agent %q: unknown provider %q", name, def.ProviderName)
		}
	}
	return nil
}

// ChunkerSettings converts the yaml view into the runtime config, applying
// defaults for unset fields.
func (c *Config) ChunkerSettings() agent.ChunkerConfig {
	out := agent.DefaultChunkerConfig()
	if c.Chunker.Enabled != nil {
		out.Enabled = *c.Chunker.Enabled
	}
	if c.Chunker.ThresholdBytes > 0 {
		out.ThresholdBytes = c.Chunker.ThresholdBytes
	}
	if c.Chunker.ChunkSizeBytes > 0 {
		out.ChunkSizeBytes = c.Chunker.ChunkSizeBytes
	}
	if c.Chunker.MaxChunks > 0 {
		out.MaxChunks = c.Chunker.MaxChunks
	}
	return out
}

// Agent returns a named definition.
func (c *Config) Agent(name string) (*agent.Definition, error) {
	def, ok := c.Agents[name]
	if !ok {
		return nil, fmt.Errorf("config: agent %q not defined", name)
	}
	return def, nil
}
