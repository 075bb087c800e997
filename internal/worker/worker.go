package worker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/xbot/internal/bus"
	"github.com/nextlevelbuilder/xbot/internal/tools"
)

// progressInterval is the minimum cadence spec.md §4.6 requires for
// the Worker Runtime's progress relay while a dispatch is running.
const progressInterval = 10 * time.Second

// CoreAgentRequest carries what a core-agent-backed worker needs to
// run its own nested, bounded orchestrator loop.
type CoreAgentRequest struct {
	WorkerID    string
	SoulPath    string
	Workspace   string
	Instruction string
	Metadata    map[string]interface{}
}

// CoreAgentResult is the nested loop's final structured outcome.
type CoreAgentResult struct {
	Ok      bool
	Summary string
	Error   string
}

// CoreAgentRunner is implemented by the Agent Orchestrator and
// injected at wiring time — kept as an interface here so
// internal/worker never imports internal/agent (the orchestrator is
// the one that imports internal/worker to wire dispatch_worker, not
// the other way around).
type CoreAgentRunner interface {
	Run(ctx context.Context, req CoreAgentRequest) (CoreAgentResult, error)
}

// Runtime executes dispatched sub-tasks against named Worker
// identities (spec.md §4.6).
type Runtime struct {
	store    *Store
	taskLog  *TaskLog
	bus      *bus.MessageBus
	policy   *tools.PolicyEngine
	coreAgent CoreAgentRunner
}

// New builds a Runtime. coreAgent may be nil until the Orchestrator
// wires itself in; dispatch to a core-agent-backend worker fails
// cleanly until then.
func New(store *Store, taskLog *TaskLog, msgBus *bus.MessageBus, coreAgent CoreAgentRunner) *Runtime {
	return &Runtime{
		store:     store,
		taskLog:   taskLog,
		bus:       msgBus,
		policy:    tools.NewPolicyEngine(),
		coreAgent: coreAgent,
	}
}

// SetCoreAgentRunner wires the orchestrator in after construction,
// breaking the internal/worker <-> internal/agent initialization
// order dependency.
func (r *Runtime) SetCoreAgentRunner(runner CoreAgentRunner) {
	r.coreAgent = runner
}

// DispatchResult is the single tool observation spec.md §4.6 says
// returns to the Manager once the sub-task finishes.
type DispatchResult struct {
	TaskID  string
	Ok      bool
	Summary string
	Error   string
}

// Dispatch implements the four-step protocol: load + reject busy/
// offline, append a queued task-log entry, flip to running and run
// the chosen backend, then record done/failed and free the slot.
func (r *Runtime) Dispatch(ctx context.Context, workerID, instruction string, metadata map[string]interface{}) (*DispatchResult, error) {
	rec, ok := r.store.Get(workerID)
	if !ok {
		return nil, fmt.Errorf("worker: unknown worker_id %s", workerID)
	}
	if rec.Status == StatusBusy || rec.Status == StatusOffline {
		return nil, fmt.Errorf("worker: %s is %s", workerID, rec.Status)
	}

	taskID := uuid.NewString()
	now := time.Now()
	if err := r.taskLog.Append(TaskLogEvent{
		TaskID:    taskID,
		WorkerID:  workerID,
		Source:    "manager_dispatch",
		Status:    "queued",
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	if err := r.store.SetStatus(workerID, StatusBusy, now.Unix()); err != nil {
		return nil, err
	}

	startedAt := time.Now()
	if err := r.taskLog.Append(TaskLogEvent{
		TaskID: taskID, WorkerID: workerID, Source: "manager_dispatch",
		Status: "running", CreatedAt: now, StartedAt: &startedAt,
	}); err != nil {
		slog.Warn("worker.tasklog.append_failed", "task_id", taskID, "error", err)
	}

	stop := r.startProgressRelay(ctx, workerID, taskID)
	defer stop()

	summary, runErr := r.runBackend(ctx, rec, taskID, instruction, metadata)

	endedAt := time.Now()
	status := "done"
	errMsg := ""
	if runErr != nil {
		status = "failed"
		errMsg = runErr.Error()
	}
	if err := r.taskLog.Append(TaskLogEvent{
		TaskID: taskID, WorkerID: workerID, Source: "manager_dispatch",
		Status: status, CreatedAt: now, StartedAt: &startedAt, EndedAt: &endedAt, Error: errMsg,
	}); err != nil {
		slog.Warn("worker.tasklog.append_failed", "task_id", taskID, "error", err)
	}
	if err := r.store.SetStatus(workerID, StatusIdle, endedAt.Unix()); err != nil {
		slog.Warn("worker.status_update_failed", "worker_id", workerID, "error", err)
	}

	return &DispatchResult{TaskID: taskID, Ok: runErr == nil, Summary: summary, Error: errMsg}, nil
}

// startProgressRelay emits a worker.progress bus event at least every
// 10 seconds while a dispatch runs; the returned func stops it.
func (r *Runtime) startProgressRelay(ctx context.Context, workerID, taskID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if r.bus != nil {
					r.bus.Broadcast(bus.Event{
						Name: bus.EventWorkerProgress,
						Payload: map[string]string{
							"worker_id": workerID,
							"task_id":   taskID,
							"status":    "running",
						},
					})
				}
			}
		}
	}()
	return func() { close(done) }
}

func (r *Runtime) runBackend(ctx context.Context, rec Record, taskID, instruction string, metadata map[string]interface{}) (string, error) {
	switch rec.Backend {
	case BackendCoreAgent:
		return r.runCoreAgent(ctx, rec, instruction, metadata)
	case BackendCodex, BackendGeminiCLI:
		return r.runExternalCLI(ctx, rec, instruction)
	case BackendShell:
		return r.runShell(ctx, rec, instruction)
	default:
		return "", fmt.Errorf("worker: unknown backend %q", rec.Backend)
	}
}

func (r *Runtime) runCoreAgent(ctx context.Context, rec Record, instruction string, metadata map[string]interface{}) (string, error) {
	if r.coreAgent == nil {
		return "", fmt.Errorf("worker: core-agent backend not wired")
	}
	result, err := r.coreAgent.Run(ctx, CoreAgentRequest{
		WorkerID:    rec.WorkerID,
		SoulPath:    rec.SoulPath,
		Workspace:   rec.WorkspacePath,
		Instruction: instruction,
		Metadata:    metadata,
	})
	if err != nil {
		return "", err
	}
	if !result.Ok {
		return "", fmt.Errorf("%s", result.Error)
	}
	return result.Summary, nil
}

// runExternalCLI spawns the codex/gemini-cli binary under the
// worker's workspace, feeding instruction on stdin and pumping stdout
// lines into the progress relay as they arrive (spec.md §9 Open
// Question 1's resolution: no contract beyond "consumes an
// instruction, emits progress lines, exits with a status").
func (r *Runtime) runExternalCLI(ctx context.Context, rec Record, instruction string) (string, error) {
	binary := string(rec.Backend)
	cmd := exec.CommandContext(ctx, binary)
	cmd.Dir = rec.WorkspacePath
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("worker: stdin pipe for %s: %w", binary, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("worker: stdout pipe for %s: %w", binary, err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("worker: start %s: %w", binary, err)
	}
	if _, err := stdin.Write([]byte(instruction)); err != nil {
		slog.Warn("worker.external_cli.stdin_write_failed", "backend", binary, "error", err)
	}
	stdin.Close()

	var last string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		last = scanner.Text()
		if r.bus != nil {
			r.bus.Broadcast(bus.Event{
				Name: bus.EventWorkerProgress,
				Payload: map[string]string{
					"worker_id": rec.WorkerID,
					"line":      last,
				},
			})
		}
	}
	if err := cmd.Wait(); err != nil {
		return last, fmt.Errorf("worker: %s exited with error: %w", binary, err)
	}
	return last, nil
}

// runShell routes directly to the bash primitive — the fast path for
// a worker explicitly configured with the shell backend.
func (r *Runtime) runShell(ctx context.Context, rec Record, instruction string) (string, error) {
	bashTool := tools.NewBashTool(rec.WorkspacePath, 300, 64*1024)
	runCtx := tools.WithWorkspace(ctx, filepath.Clean(rec.WorkspacePath))
	runCtx = tools.WithProfile(runCtx, tools.ProfileWorker)
	result := bashTool.Execute(runCtx, map[string]interface{}{"command": instruction})
	if !result.Ok {
		return "", fmt.Errorf("%s: %s", result.ErrorCode, result.Message)
	}
	if s, ok := result.Data.(string); ok {
		return s, nil
	}
	return result.Summary, nil
}
