package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry is an insertion-ordered name-to-tool map. It is mutated during
// startup (built-in registration, MCP wrapping) and read-only once the
// agent loop starts.
type Registry struct {
	mu      sync.RWMutex
	order   []string
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

// Register adds a tool. Re-registering a name replaces the tool but keeps
// its original position.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ValidateInput checks a tool input against the tool's JSON Schema.
// Compiled schemas are cached per tool. Tools without a schema accept any
// input.
func (r *Registry) ValidateInput(name string, input map[string]any) error {
	r.mu.Lock()
	schema, cached := r.schemas[name]
	tool, ok := r.tools[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if !cached {
		raw := tool.InputSchema()
		if raw == nil {
			r.mu.Lock()
			r.schemas[name] = nil
			r.mu.Unlock()
			return nil
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return &InvalidInputError{Tool: name, Err: err}
		}
		compiler := jsonschema.NewCompiler()
		resource := fmt.Sprintf("inline://%s.json", name)
		if err := compiler.AddResource(resource, bytes.NewReader(data)); err != nil {
			return &InvalidInputError{Tool: name, Err: err}
		}
		schema, err = compiler.Compile(resource)
		if err != nil {
			return &InvalidInputError{Tool: name, Err: err}
		}
		r.mu.Lock()
		r.schemas[name] = schema
		r.mu.Unlock()
	}
	if schema == nil {
		return nil
	}

	// Round-trip through JSON so numeric types match what decoding a
	// provider payload would produce.
	if input == nil {
		input = map[string]any{}
	}
	data, err := json.Marshal(input)
	if err != nil {
		return &InvalidInputError{Tool: name, Err: err}
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return &InvalidInputError{Tool: name, Err: err}
	}
	if err := schema.Validate(v); err != nil {
		return &InvalidInputError{Tool: name, Err: err}
	}
	return nil
}
