package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/xbot/internal/providers"
)

// Tool is one callable primitive or extension surfaced to the LLM.
// No registry.go was retrieved from the teacher's pack — the shape
// here is inferred from how tools/*.go (web_search.go's Execute
// signature, policy.go's registry.Get/List/ToProviderDef call sites)
// actually use a registry, not copied from a concrete file.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]interface{} // JSON-Schema parameters object
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// FuncTool adapts a plain function into a Tool, used for primitives
// and dynamically-registered skill/worker/memory bridges.
type FuncTool struct {
	name        string
	description string
	schema      map[string]interface{}
	fn          func(ctx context.Context, args map[string]interface{}) *Result
}

// NewFuncTool builds a Tool from a name/description/schema/function.
func NewFuncTool(name, description string, schema map[string]interface{}, fn func(context.Context, map[string]interface{}) *Result) *FuncTool {
	return &FuncTool{name: name, description: description, schema: schema, fn: fn}
}

func (t *FuncTool) Name() string                       { return t.name }
func (t *FuncTool) Description() string                { return t.description }
func (t *FuncTool) Schema() map[string]interface{}      { return t.schema }
func (t *FuncTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return t.fn(ctx, args)
}

// Registry holds every tool the core knows about, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tool names, sorted for determinism.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a tool by name, enforcing the profile gate first. A
// worker-profile caller invoking a Manager-only tool gets
// "unauthorized" without the tool ever running, per spec.md §8.
func (r *Registry) Execute(ctx context.Context, policy *PolicyEngine, profile Profile, name string, args map[string]interface{}) *Result {
	if !policy.Allowed(profile, name) {
		return ErrResult("unauthorized", "tool "+name+" is not available to this caller")
	}
	tool, ok := r.Get(name)
	if !ok {
		return ErrResult("invalid_input", "unknown tool: "+name)
	}
	return tool.Execute(ctx, args)
}

// ToProviderDef converts a Tool into the LLM function-calling
// definition spec.md §6 requires (name, description, JSON-Schema
// parameters).
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		},
	}
}
