package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/pkg/models"
)

// stubProvider replays scripted chunk sequences, one per Complete call,
// repeating the last script once exhausted.
type stubProvider struct {
	mu      sync.Mutex
	scripts [][]*agent.CompletionChunk
	calls   int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	idx := p.calls
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	script := p.scripts[idx]
	p.calls++
	p.mu.Unlock()

	out := make(chan *agent.CompletionChunk, len(script)+1)
	for _, c := range script {
		out <- c
	}
	out <- &agent.CompletionChunk{Done: true, InputTokens: 1, OutputTokens: 1}
	close(out)
	return out, nil
}

func delegationConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
default_provider: anthropic
providers:
  anthropic:
    api_key: test
agents:
  lead:
    system_prompt: coordinate work
    tools: [helper]
  helper:
    system_prompt: do the work
    tools: [shell]
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

// A destructive shell call issued inside a delegated sub-agent must surface
// on the run's one approval gate, and its progress events on the run's one
// bus; denying it must prevent execution.
func TestDelegateSharesApprovalGateAndBus(t *testing.T) {
	cfg := delegationConfig(t)
	lead, err := cfg.Agent("lead")
	if err != nil {
		t.Fatal(err)
	}

	destructive := `{"command":"rm -rf /tmp/never-created-by-this-test"}`
	provider := &stubProvider{scripts: [][]*agent.CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call-1", Name: "shell", Input: json.RawMessage(destructive)}}},
		{{Text: "handled without running it"}},
	}}

	bus := events.NewBus()
	defer bus.Close()
	gate := agent.NewGate()
	defer gate.Close()
	shared := sharedState{
		bus:       bus,
		gate:      gate,
		allowList: agent.NewAllowList(),
		stack:     agent.NewCallStack(),
	}

	registry, closeTools, err := buildRegistry(cfg, lead, provider, shared)
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
	defer closeTools()

	helper, ok := registry.Get("helper")
	if !ok {
		t.Fatal("helper delegate not registered for lead")
	}

	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	var asked atomic.Int32
	go func() {
		select {
		case req := <-gate.Requests():
			asked.Add(1)
			found := false
			for _, trig := range req.Triggers {
				if trig == "rm -rf" {
					found = true
				}
			}
			if !found {
				t.Errorf("approval request triggers = %v, want rm -rf", req.Triggers)
			}
			req.Respond(agent.DecisionDeny)
		case <-time.After(5 * time.Second):
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := helper.Execute(ctx, json.RawMessage(`{"task":"clean the scratch dir"}`))
	if err != nil {
		t.Fatalf("delegate run: %v", err)
	}
	if out != "handled without running it" {
		t.Errorf("delegate result = %q", out)
	}

	if got := asked.Load(); got != 1 {
		t.Fatalf("approval gate consulted %d times, want 1", got)
	}

	// Sub-agent tool events must be visible on the shared bus.
	sawShellStart := false
	deadline := time.After(2 * time.Second)
	for !sawShellStart {
		select {
		case e := <-sub:
			if e.Type == events.TypeToolStart && e.Tool == "shell" && e.Agent == "helper" {
				sawShellStart = true
			}
		case <-deadline:
			t.Fatal("no tool_start for the sub-agent's shell call on the shared bus")
		}
	}
}

// AllowForSession recorded by one conversation must cover the same trigger
// in a delegated conversation: the allow-list is process-wide.
func TestDelegateSharesSessionAllowList(t *testing.T) {
	cfg := delegationConfig(t)
	lead, err := cfg.Agent("lead")
	if err != nil {
		t.Fatal(err)
	}

	provider := &stubProvider{scripts: [][]*agent.CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call-1", Name: "shell", Input: json.RawMessage(`{"command":"echo rm -rf nothing"}`)}}},
		{{Text: "done"}},
	}}

	gate := agent.NewGate()
	defer gate.Close()
	shared := sharedState{
		bus:       events.NewBus(),
		gate:      gate,
		allowList: agent.NewAllowList(),
		stack:     agent.NewCallStack(),
	}
	defer shared.bus.Close()

	// A prior conversation already granted this trigger for the session.
	shared.allowList.Add("rm -rf")

	registry, closeTools, err := buildRegistry(cfg, lead, provider, shared)
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
	defer closeTools()

	helper, ok := registry.Get("helper")
	if !ok {
		t.Fatal("helper delegate not registered")
	}

	// Nobody answers the gate; if the delegate consulted it the run would
	// stall until the context expired.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := helper.Execute(ctx, json.RawMessage(`{"task":"echo something"}`))
	if err != nil {
		t.Fatalf("delegate run: %v", err)
	}
	if !strings.Contains(out, "done") {
		t.Errorf("delegate result = %q", out)
	}
}
