package tools

import "github.com/nextlevelbuilder/xbot/internal/providers"

// Profile is the calling context a tool invocation runs under. The
// spec collapses the teacher's N-profile/provider/agent policy matrix
// down to exactly two layers: the Manager (full access) and a Worker
// (everything except the tools that would let a worker spawn more
// workers or touch another user's memory graph).
type Profile string

const (
	ProfileManager Profile = "manager"
	ProfileWorker  Profile = "worker"
)

// managerOnlyTools are only reachable from the Manager loop, per
// spec.md §8's "Permission gating" property.
var managerOnlyTools = map[string]bool{
	"list_workers":    true,
	"dispatch_worker": true,
	"open_nodes":       true,
	"create_entities":  true,
	"create_relations": true,
	"add_observations": true,
	"read_graph":       true,
}

// PolicyEngine filters the tool set exposed to a given calling
// profile.
type PolicyEngine struct{}

// NewPolicyEngine creates a PolicyEngine.
func NewPolicyEngine() *PolicyEngine { return &PolicyEngine{} }

// Allowed reports whether profile may invoke toolName at all (used
// both to filter the LLM's tool list and to gate actual execution).
func (pe *PolicyEngine) Allowed(profile Profile, toolName string) bool {
	if profile == ProfileManager {
		return true
	}
	return !managerOnlyTools[toolName]
}

// FilterTools returns provider tool definitions visible to profile.
func (pe *PolicyEngine) FilterTools(registry *Registry, profile Profile) []providers.ToolDefinition {
	var defs []providers.ToolDefinition
	for _, name := range registry.List() {
		if !pe.Allowed(profile, name) {
			continue
		}
		if tool, ok := registry.Get(name); ok {
			defs = append(defs, ToProviderDef(tool))
		}
	}
	return defs
}
