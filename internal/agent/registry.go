package agent

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds the tools available to agents, keyed by name, with compiled
// argument schemas. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its declared schema for argument
// validation. Registering a duplicate name or an invalid schema fails.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("registry: tool has empty name")
	}

	var compiled *jsonschema.Schema
	if raw := t.Schema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		url := fmt.Sprintf("tool://%s/schema.json", name)
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("registry: tool %q schema: %w", name, err)
		}
		var err error
		compiled, err = compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("registry: tool %q schema: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("registry: tool %q already registered", name)
	}
	r.tools[name] = t
	if compiled != nil {
		r.schemas[name] = compiled
	}
	return nil
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ValidateInput checks a call's arguments against the tool's compiled
// schema. Tools without a schema accept anything.
func (r *Registry) ValidateInput(name string, input any) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	if err := schema.Validate(input); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemasFor returns provider-facing declarations for the named tools,
// preserving order and skipping unknown names.
func (r *Registry) SchemasFor(names []string) []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out = append(out, SchemaFor(t))
		}
	}
	return out
}
