package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (1MB).
	MaxToolParamsSize = 1 << 20
)

// Registry manages available tools with thread-safe registration and
// lookup. It is assembled once at startup; no component mutates it at
// runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool by name, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs a tool by name with the given JSON parameters. Lookup
// failures and parameter violations come back as error results rather
// than errors, so the model can react to them.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (string, error) {
	if len(name) > MaxToolNameLength {
		return "", fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if len(params) > MaxToolParamsSize {
		return "", fmt.Errorf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, params)
}

// Tools returns all registered tools, ordered by name for a stable
// wire representation.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}
