package agent

import (
	"fmt"
	"strings"
)

// Default budgets applied when a definition leaves them unset.
const (
	DefaultMaxTurns         = 20
	DefaultMaxContinuations = 2
)

// Definition is the immutable description of one agent, loaded once from
// configuration.
type Definition struct {
	// Name identifies the agent and, for delegated agents, the tool name a
	// parent calls it by.
	Name string `yaml:"name" json:"name"`

	// Description is shown to a parent agent when this agent is exposed as
	// a tool.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// SystemPrompt is the fixed system message for every completion.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	// Tools is the ordered set of tool names this agent may call.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`

	// MaxTurns is the hard ceiling on loop iterations per continuation
	// window. Zero means DefaultMaxTurns.
	MaxTurns int `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`

	// ToolLimits maps a tool name to its per-window call ceiling. Tools
	// absent from the map are unlimited.
	ToolLimits map[string]int `yaml:"tool_limits,omitempty" json:"tool_limits,omitempty"`

	// ReadOnly refuses tools with write effects at dispatch time.
	ReadOnly bool `yaml:"read_only,omitempty" json:"read_only,omitempty"`

	// CompactPrompt overrides the default compaction instructions.
	CompactPrompt string `yaml:"compact_prompt,omitempty" json:"compact_prompt,omitempty"`

	// MaxContinuations bounds how many times budget exhaustion may trigger
	// a fresh continuation. Nil means DefaultMaxContinuations; explicit 0
	// disables continuation entirely.
	MaxContinuations *int `yaml:"max_continuations,omitempty" json:"max_continuations,omitempty"`

	// Model and ProviderName select the backend; empty values fall back to
	// configuration defaults.
	Model        string `yaml:"model,omitempty" json:"model,omitempty"`
	ProviderName string `yaml:"provider,omitempty" json:"provider,omitempty"`
}

// Validate checks internal consistency. Tool existence is checked later
// against the registry; here we only verify the definition's own shape.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("agent definition: name is required")
	}
	if strings.TrimSpace(d.SystemPrompt) == "" {
		return fmt.Errorf("agent %q: system_prompt is required", d.Name)
	}
	if d.MaxTurns < 0 {
		return fmt.Errorf("agent %q: max_turns must be >= 0", d.Name)
	}
	if d.MaxContinuations != nil && *d.MaxContinuations < 0 {
		return fmt.Errorf("agent %q: max_continuations must be >= 0", d.Name)
	}
	declared := make(map[string]bool, len(d.Tools))
	for _, name := range d.Tools {
		if declared[name] {
			return fmt.Errorf("agent %q: duplicate tool %q", d.Name, name)
		}
		declared[name] = true
	}
	for name, limit := range d.ToolLimits {
		if !declared[name] {
			return fmt.Errorf("agent %q: tool_limits references undeclared tool %q", d.Name, name)
		}
		if limit < 0 {
			return fmt.Errorf("agent %q: tool_limits[%q] must be >= 0", d.Name, name)
		}
	}
	return nil
}

// EffectiveMaxTurns resolves the turn budget with defaults applied.
func (d *Definition) EffectiveMaxTurns() int {
	if d.MaxTurns <= 0 {
		return DefaultMaxTurns
	}
	return d.MaxTurns
}

// EffectiveMaxContinuations resolves the continuation budget with defaults
// applied.
func (d *Definition) EffectiveMaxContinuations() int {
	if d.MaxContinuations == nil {
		return DefaultMaxContinuations
	}
	return *d.MaxContinuations
}

// DeclaresTool reports whether name is in the agent's toolset.
func (d *Definition) DeclaresTool(name string) bool {
	for _, t := range d.Tools {
		if t == name {
			return true
		}
	}
	return false
}
