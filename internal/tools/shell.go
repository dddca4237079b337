package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// destructivePatterns are command substrings that require explicit approval
// before the shell tool will run them.
var destructivePatterns = []string{
	"rm -rf",
	"rm -fr",
	"git push --force",
	"git push -f",
	"git reset --hard",
	"git clean",
	"mkfs",
	"dd if=",
	"> /dev/",
	"chmod -R 777",
	"truncate -s 0",
	"drop table",
	"drop database",
}

const maxShellOutput = 256 * 1024

// Shell executes a command through /bin/sh. Commands matching a destructive
// pattern are gated behind the approval flow.
type Shell struct {
	// Dir is the working directory for commands. Empty means inherit.
	Dir string
	// Timeout bounds a single command. Zero applies the default.
	Timeout time.Duration
}

const defaultShellTimeout = 2 * time.Minute

func (t *Shell) Name() string { return "shell" }

func (t *Shell) Description() string {
	return "Run a shell command and return its combined stdout and stderr."
}

func (t *Shell) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to execute"}
		},
		"required": ["command"]
	}`)
}

// WritesState marks shell execution as mutating.
func (t *Shell) WritesState() bool { return true }

// Triggers reports the destructive patterns present in the command.
// An empty slice means the call proceeds without approval.
func (t *Shell) Triggers(input json.RawMessage) []string {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil
	}
	lower := strings.ToLower(args.Command)
	var triggers []string
	for _, p := range destructivePatterns {
		if strings.Contains(lower, p) {
			triggers = append(triggers, p)
		}
	}
	return triggers
}

func (t *Shell) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("parse input: %w", err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return "", fmt.Errorf("command is required")
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", args.Command)
	cmd.Dir = t.Dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := buf.String()
	if len(out) > maxShellOutput {
		out = out[:maxShellOutput] + "\n[output truncated]"
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %s", timeout)
		}
		if out == "" {
			return "", err
		}
		return "", fmt.Errorf("%w\n%s", err, out)
	}
	if out == "" {
		return "(no output)", nil
	}
	return out, nil
}
