package toolregistry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	js "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/conductorrun/conductor/errs"
)

// Registry is a per-task catalog of invocable Methods. The zero value is
// not usable; construct with New. A Registry created for one Task must
// never be shared with another (spec.md §4.2 isolation rule) — callers
// are expected to construct one Registry per Task, not to share a package
// global.
type Registry struct {
	mu       sync.RWMutex
	methods  map[string]Method
	compiled map[string]*js.Schema
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		methods:  make(map[string]Method),
		compiled: make(map[string]*js.Schema),
	}
}

// Register adds every Method exposed by tool, compiling its schema once
// up front (registry/service.go's AddResource+Compile pattern, done at
// registration time here instead of per call) so Executor.Execute never
// pays compilation cost on the hot path. A duplicate method name (within
// this Registry or across tools registered into it) is an error.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range tool.Methods() {
		if m.Name == "" {
			return errs.New(errs.KindToolSchemaError, "tool method has empty name")
		}
		if _, exists := r.methods[m.Name]; exists {
			return errs.Newf(errs.KindToolSchemaError, "method %q already registered", m.Name)
		}
		if m.Retry.MaxAttempts == 0 {
			m.Retry = DefaultRetryPolicy()
		}
		if len(m.Schema) > 0 {
			compiled, err := compileSchema(m.Name, m.Schema)
			if err != nil {
				return errs.Wrap(errs.KindToolSchemaError, fmt.Sprintf("method %q has an invalid schema", m.Name), err)
			}
			r.compiled[m.Name] = compiled
		}
		r.methods[m.Name] = m
	}
	return nil
}

func compileSchema(name string, schema json.RawMessage) (*js.Schema, error) {
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, err
	}
	c := js.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return c.Compile(resource)
}

// Get returns the method registered under name.
func (r *Registry) Get(name string) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// CompiledSchema returns the precompiled validator for name's schema, or
// nil if the method declared no schema.
func (r *Registry) CompiledSchema(name string) *js.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.compiled[name]
}

// List returns every registered method name, sorted for determinism.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the LLM-facing schema for exactly the requested names,
// in the order given. An unknown name is an error (spec.md §4.2).
func (r *Registry) Schemas(names []string) ([]Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(names))
	for _, name := range names {
		m, ok := r.methods[name]
		if !ok {
			return nil, errs.Newf(errs.KindToolSchemaError, "unknown tool %q", name)
		}
		out = append(out, Schema{Name: m.Name, Description: m.Description, Parameters: m.Schema})
	}
	return out, nil
}

// AllSchemas returns the LLM-facing schema for every registered method, in
// name order.
func (r *Registry) AllSchemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Schema, 0, len(names))
	for _, name := range names {
		m := r.methods[name]
		out = append(out, Schema{Name: m.Name, Description: m.Description, Parameters: m.Schema})
	}
	return out
}
