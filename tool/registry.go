package tool

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/convoke-ai/convoke/backend"
)

// Registry holds the set of tools available to an agent, keyed by name.
// Registering a tool under an existing name replaces the previous entry.
// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool registered under name, or nil if none exists.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
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

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Specs renders the registry as backend tool declarations, sorted by name so
// provider payloads are deterministic.
func (r *Registry) Specs() []backend.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]backend.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, backend.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// resultContent renders a tool return value as message text. Strings pass
// through unchanged; everything else is JSON encoded.
func resultContent(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// errorContent renders a ToolError as the JSON body of an error result so the
// model sees a structured, machine-readable failure.
func errorContent(err *ToolError) string {
	raw, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		return err.Error()
	}
	return string(raw)
}
