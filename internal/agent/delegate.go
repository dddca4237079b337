package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// AgentTool exposes an agent definition as a tool so a parent agent can
// delegate sub-tasks. Each invocation runs an independent conversation;
// only the event bus and session allow-list are shared with the parent.
type AgentTool struct {
	def  *Definition
	loop *Loop
}

// NewAgentTool wraps def so it can be registered like any other tool.
func NewAgentTool(def *Definition, loop *Loop) *AgentTool {
	return &AgentTool{def: def, loop: loop}
}

func (t *AgentTool) Name() string { return t.def.Name }

func (t *AgentTool) Description() string {
	if t.def.Description != "" {
		return t.def.Description
	}
	return fmt.Sprintf("Delegate a task to the %s agent.", t.def.Name)
}

func (t *AgentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {
				"type": "string",
				"description": "The task to hand off, with all context the sub-agent needs"
			}
		},
		"required": ["task"]
	}`)
}

// WritesState reports the sub-agent's own read-only declaration, so a
// read-only parent cannot smuggle writes through delegation.
func (t *AgentTool) WritesState() bool {
	return !t.def.ReadOnly
}

func (t *AgentTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("parse delegation input: %w", err)
	}

	res, err := t.loop.Run(ctx, t.def, args.Task)
	if err != nil {
		return "", fmt.Errorf("sub-agent %s: %w", t.def.Name, err)
	}
	switch res.Outcome {
	case OutcomeSuccess:
		return res.Text, nil
	case OutcomeBudgetExhausted:
		return fmt.Sprintf("Sub-agent ran out of budget. Partial progress summary:\n\n%s", res.Summary), nil
	default:
		return "", fmt.Errorf("sub-agent %s ended with outcome %s", t.def.Name, res.Outcome)
	}
}
