package main

import (
	"strings"
	"testing"

	"github.com/droverhq/drover/internal/config"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"run", "agents"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("explicit.yaml"); got != "explicit.yaml" {
		t.Errorf("flag should win, got %q", got)
	}

	t.Setenv("DROVER_CONFIG", "/etc/drover.yaml")
	if got := resolveConfigPath(""); got != "/etc/drover.yaml" {
		t.Errorf("env fallback = %q", got)
	}

	t.Setenv("DROVER_CONFIG", "")
	if got := resolveConfigPath(""); got != "drover.yaml" {
		t.Errorf("default = %q", got)
	}
}

func TestPrintAgentsTable(t *testing.T) {
	cfg, err := config.Parse([]byte(`
default_provider: anthropic
providers:
  anthropic:
    api_key: test
agents:
  researcher:
    system_prompt: research things
    read_only: true
    tools: [fetch]
  writer:
    system_prompt: write things
    provider: openai
    max_turns: 5
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	var buf strings.Builder
	if err := printAgents(&buf, cfg); err != nil {
		t.Fatalf("printAgents: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "researcher") || !strings.Contains(out, "writer") {
		t.Errorf("missing agent rows:\n%s", out)
	}
	// researcher inherits the default provider, writer overrides it.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus two rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "anthropic") {
		t.Errorf("researcher row should show default provider: %s", lines[1])
	}
	if !strings.Contains(lines[2], "openai") {
		t.Errorf("writer row should show openai: %s", lines[2])
	}
}
