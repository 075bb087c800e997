package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/nextlevelbuilder/xbot/internal/mcp"
	"github.com/nextlevelbuilder/xbot/internal/skills"
	"github.com/nextlevelbuilder/xbot/internal/task"
	"github.com/nextlevelbuilder/xbot/internal/tools"
	"github.com/nextlevelbuilder/xbot/internal/worker"
)

// registerWorkerTools wires list_workers/dispatch_worker — the two
// Manager-only primitives spec.md §4.6 names for inspecting and
// dispatching to the Worker Store/Runtime. Built here, not inside
// internal/worker, since both the *worker.Store and *worker.Runtime
// are only assembled together at the composition root. inbox is used
// to record which worker the calling task dispatched to
// (AssignWorker), so the envelope's assigned_worker_id/dispatch_reason
// reflect real dispatch decisions instead of sitting permanently empty.
func registerWorkerTools(registry *tools.Registry, workers *worker.Store, runtime *worker.Runtime, inbox *task.Inbox) {
	registry.Register(tools.NewFuncTool(
		"list_workers",
		"List every registered Worker identity and its current status",
		map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		func(ctx context.Context, args map[string]interface{}) *tools.Result {
			recs := workers.List()
			out := make([]map[string]interface{}, 0, len(recs))
			for _, r := range recs {
				out = append(out, map[string]interface{}{
					"worker_id":    r.WorkerID,
					"name":         r.Name,
					"backend":      string(r.Backend),
					"status":       string(r.Status),
					"capabilities": r.Capabilities,
				})
			}
			return tools.OkResult(out)
		},
	))

	registry.Register(tools.NewFuncTool(
		"dispatch_worker",
		"Dispatch an instruction to a named Worker (or the least-recently-used idle Worker satisfying required_capabilities, when worker_id is omitted) and wait for its result",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"worker_id":             map[string]interface{}{"type": "string"},
				"instruction":           map[string]interface{}{"type": "string"},
				"required_capabilities": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			},
			"required": []string{"instruction"},
		},
		func(ctx context.Context, args map[string]interface{}) *tools.Result {
			workerID, _ := args["worker_id"].(string)
			instruction, _ := args["instruction"].(string)
			if instruction == "" {
				return tools.ErrResult("invalid_input", "instruction is required")
			}
			reason := "explicit worker_id"
			if workerID == "" {
				rec, ok := workers.SelectIdle(stringSliceArg(args["required_capabilities"]))
				if !ok {
					return tools.ErrResult("no_worker_available", "no idle worker satisfies required_capabilities")
				}
				workerID = rec.WorkerID
				reason = "least-recently-used idle worker matching required_capabilities"
			}
			if taskID := tools.TaskIDFromContext(ctx); taskID != "" {
				if err := inbox.AssignWorker(taskID, workerID, reason); err != nil {
					slog.Warn("dispatch_worker.assign_record_failed", "task_id", taskID, "worker_id", workerID, "error", err)
				}
			}
			res, err := runtime.Dispatch(ctx, workerID, instruction, nil)
			if err != nil {
				return tools.ErrResult("exec_failure", err.Error())
			}
			if !res.Ok {
				return tools.ErrResult("exec_failure", res.Error)
			}
			return tools.OkResult(map[string]interface{}{
				"task_id": res.TaskID,
				"summary": res.Summary,
			})
		},
	))
}

// registerExtensionTools wires run_extension/list_extensions, the
// SKILL.md-declared plug-in surface spec.md §4.5 describes. The
// calling user_id is recovered from the workspace the Orchestrator
// already stashed on ctx — Manager turns run under
// DATA_DIR/users/<sanitized user_id>, so its base name is the
// sanitized user_id the Runner needs for its per-user ext workspace.
func registerExtensionTools(registry *tools.Registry, loader *skills.Loader, runner *skills.Runner) {
	registry.Register(tools.NewFuncTool(
		"list_extensions",
		"List every available skill/extension and its trigger phrases",
		map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		func(ctx context.Context, args map[string]interface{}) *tools.Result {
			descs := loader.List()
			out := make([]map[string]interface{}, 0, len(descs))
			for _, d := range descs {
				out = append(out, map[string]interface{}{
					"name":        d.Name,
					"description": d.Description,
					"triggers":    d.Triggers,
					"kind":        string(d.Kind),
				})
			}
			return tools.OkResult(out)
		},
	))

	registry.Register(tools.NewFuncTool(
		"run_extension",
		"Invoke a named skill/extension's entry point with structured arguments",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"skill_name":  map[string]interface{}{"type": "string"},
				"args":        map[string]interface{}{"type": "object"},
				"timeout_sec": map[string]interface{}{"type": "integer", "minimum": 1},
			},
			"required": []string{"skill_name"},
		},
		func(ctx context.Context, args map[string]interface{}) *tools.Result {
			skillName, _ := args["skill_name"].(string)
			if skillName == "" {
				return tools.ErrResult("invalid_input", "skill_name is required")
			}
			skillArgs, _ := args["args"].(map[string]interface{})
			timeoutOverride := 0
			if v, ok := args["timeout_sec"].(float64); ok {
				timeoutOverride = int(v)
			}
			userID := filepath.Base(tools.WorkspaceFromContext(ctx))
			result := runner.Execute(ctx, skillName, userID, skillArgs, timeoutOverride)
			if !result.Ok {
				return tools.ErrResult(result.ErrorCode, result.Message)
			}
			return &tools.Result{Ok: true, Data: result.Result, Files: filesRefsToStrings(result.Files)}
		},
	))
}

// stringSliceArg coerces a decoded JSON array argument (each element an
// interface{} holding a string) into a []string, tolerating a missing
// or wrong-typed argument by returning nil (no required capabilities).
func stringSliceArg(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func filesRefsToStrings(refs []skills.FileRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Path
	}
	return out
}

// registerMemoryTools wires the five MCP memory/graph tool names
// spec.md §4.4 exposes to Manager-context callers, gated by
// MCP_MEMORY_ENABLED. Each name is a thin pass-through to
// mgr.CallTool — the Tool Registry itself has no memory semantics,
// it is purely a permission-scoped bridge.
func registerMemoryTools(registry *tools.Registry, mgr *mcp.Manager) {
	for _, name := range mcp.MemoryToolNames {
		name := name
		registry.Register(tools.NewFuncTool(
			name,
			fmt.Sprintf("MCP memory/graph operation: %s", name),
			map[string]interface{}{"type": "object"},
			func(ctx context.Context, args map[string]interface{}) *tools.Result {
				if !mgr.Connected() {
					return tools.ErrResult("mcp_unavailable", "memory server not connected")
				}
				res, err := mgr.CallTool(ctx, name, args)
				if err != nil {
					return tools.ErrResult("mcp_unavailable", err.Error())
				}
				return tools.OkResult(mcp.ResultText(res))
			},
		))
	}
}
