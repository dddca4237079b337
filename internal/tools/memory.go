package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryStore is a sqlite-backed key-value store shared by the memory_get
// and memory_set tools. Values persist across agent runs.
type MemoryStore struct {
	db *sql.DB
}

// OpenMemoryStore opens (or creates) the store at path. Use ":memory:" for
// an ephemeral store in tests.
func OpenMemoryStore(path string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids table-lock errors under parallel tool calls.
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS memory (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory store: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *MemoryStore) Close() error { return s.db.Close() }

// Get returns the value for key. The second return reports presence.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM memory WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Keys lists all stored keys in lexical order.
func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM memory ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// MemoryGet reads a value from the shared store.
type MemoryGet struct {
	Store *MemoryStore
}

func (t *MemoryGet) Name() string { return "memory_get" }

func (t *MemoryGet) Description() string {
	return "Retrieve a value previously saved with memory_set. Returns an empty result if the key is unknown."
}

func (t *MemoryGet) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"key": {"type": "string", "description": "Key to look up"}
		},
		"required": ["key"]
	}`)
}

func (t *MemoryGet) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("parse input: %w", err)
	}
	value, ok, err := t.Store.Get(ctx, args.Key)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("No value stored for key %q.", args.Key), nil
	}
	return value, nil
}

// MemorySet writes a value to the shared store.
type MemorySet struct {
	Store *MemoryStore
}

func (t *MemorySet) Name() string { return "memory_set" }

func (t *MemorySet) Description() string {
	return "Persist a value under a key for later retrieval with memory_get."
}

func (t *MemorySet) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"key": {"type": "string", "description": "Key to store under"},
			"value": {"type": "string", "description": "Value to persist"}
		},
		"required": ["key", "value"]
	}`)
}

// WritesState marks memory writes as mutating.
func (t *MemorySet) WritesState() bool { return true }

func (t *MemorySet) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("parse input: %w", err)
	}
	if args.Key == "" {
		return "", fmt.Errorf("key is required")
	}
	if err := t.Store.Set(ctx, args.Key, args.Value); err != nil {
		return "", err
	}
	return fmt.Sprintf("Stored %d bytes under key %q.", len(args.Value), args.Key), nil
}
