package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	maxFetchBytes       = 1 << 20 // 1 MiB response cap
	defaultFetchTimeout = 30 * time.Second
)

// Fetch performs an HTTP GET and returns the response body as text.
type Fetch struct {
	// Client, when nil, falls back to a client with the default timeout.
	Client *http.Client
}

func (t *Fetch) Name() string { return "fetch" }

func (t *Fetch) Description() string {
	return "Fetch a URL over HTTP GET and return the response body as text."
}

func (t *Fetch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "HTTP or HTTPS URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (t *Fetch) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("parse input: %w", err)
	}
	if !strings.HasPrefix(args.URL, "http://") && !strings.HasPrefix(args.URL, "https://") {
		return "", fmt.Errorf("url must start with http:// or https://")
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "drover/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	truncated := false
	if len(body) > maxFetchBytes {
		body = body[:maxFetchBytes]
		truncated = true
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("GET %s: %s", args.URL, resp.Status)
	}
	out := string(body)
	if truncated {
		out += "\n[response truncated at 1 MiB]"
	}
	return out, nil
}
