// Package tools provides the built-in tool capabilities agents can declare:
// file access, shell execution, HTTP fetch, and persistent memory.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxReadBytes caps read_file output before the chunk processor would have
// to deal with it anyway.
const maxReadBytes = 512 * 1024

// ReadFile reads a file from disk.
type ReadFile struct {
	// Root, when set, confines reads to a directory tree.
	Root string
}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Description() string {
	return "Read a UTF-8 text file from disk. Returns the full contents."
}

func (t *ReadFile) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path to read"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFile) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("parse input: %w", err)
	}
	path, err := resolvePath(t.Root, args.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > maxReadBytes {
		return "", fmt.Errorf("file is %d bytes, larger than the %d byte limit", len(data), maxReadBytes)
	}
	return string(data), nil
}

// WriteFile writes a file to disk, creating parent directories.
type WriteFile struct {
	Root string
}

func (t *WriteFile) Name() string { return "write_file" }

func (t *WriteFile) Description() string {
	return "Write content to a file, replacing it if it exists. Creates parent directories."
}

func (t *WriteFile) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path to write"},
			"content": {"type": "string", "description": "Full file content"}
		},
		"required": ["path", "content"]
	}`)
}

// WritesState marks this tool off-limits to read-only agents.
func (t *WriteFile) WritesState() bool { return true }

func (t *WriteFile) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("parse input: %w", err)
	}
	path, err := resolvePath(t.Root, args.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), args.Path), nil
}

// resolvePath applies the optional root confinement and rejects escapes.
func resolvePath(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if root == "" {
		return path, nil
	}
	joined := filepath.Join(root, path)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the allowed root", path)
	}
	return abs, nil
}
