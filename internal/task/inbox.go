package task

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/xbot/internal/state"
)

// tasksDir is the State Store path namespace TaskEnvelopes are
// persisted under. Not named explicitly as a user/system state domain
// in spec.md §3, so it is rooted under system/ the same way
// id_counters.md is.
const tasksDir = "system/tasks"

// Inbox is the single submission point and lifecycle store for every
// unit of work. A single mutex guards the in-memory map; each
// mutation is persisted before the mutex is released, matching
// spec.md §4.2/§5's "async mutex... persist-before-unlock" model.
type Inbox struct {
	store *state.Store

	mu       sync.Mutex
	byID     map[string]*Envelope
	limiters map[string]*rate.Limiter
}

// New creates an Inbox and rehydrates all envelopes from disk.
func New(store *state.Store) (*Inbox, error) {
	in := &Inbox{
		store:    store,
		byID:     make(map[string]*Envelope),
		limiters: make(map[string]*rate.Limiter),
	}
	if err := in.rehydrate(); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *Inbox) rehydrate() error {
	dir := filepath.Join(in.store.DataDir(), tasksDir)
	entries, err := readDirSafe(dir)
	if err != nil {
		return err
	}
	for _, name := range entries {
		payload, _, err := in.store.ReadState(filepath.Join(tasksDir, name))
		if err != nil {
			slog.Warn("task.rehydrate.skip", "file", name, "error", err)
			continue
		}
		env := envelopeFromPayload(payload)
		if env.TaskID != "" {
			in.byID[env.TaskID] = env
		}
	}
	slog.Info("task.rehydrate.done", "count", len(in.byID))
	return nil
}

// perUserLimiter returns (creating if needed) a submission rate
// limiter for userID: an ambient defensive measure, not itself a spec
// requirement, modeled on the reference gateway's WebhookRateLimiter.
func (in *Inbox) perUserLimiter(userID string) *rate.Limiter {
	l, ok := in.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 10)
		in.limiters[userID] = l
	}
	return l
}

// Submit creates a new pending TaskEnvelope and persists it.
func (in *Inbox) Submit(source Source, goal, userID string, payload map[string]interface{}, priority Priority, requiresReply bool) (*Envelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.perUserLimiter(userID).Allow() {
		return nil, fmt.Errorf("task: submission rate limit exceeded for user %s", userID)
	}

	env := &Envelope{
		TaskID:        uuid.NewString(),
		Source:        source,
		Goal:          goal,
		Payload:       payload,
		Priority:      priority,
		UserID:        userID,
		RequiresReply: requiresReply,
		CreatedAt:     time.Now(),
		Status:        StatusPending,
	}
	env.Events = append(env.Events, Event{Timestamp: env.CreatedAt, Kind: "submitted"})

	in.byID[env.TaskID] = env
	if err := in.persist(env); err != nil {
		delete(in.byID, env.TaskID)
		return nil, err
	}
	return env.clone(), nil
}

// Get returns a copy of the envelope for task_id, or false if unknown.
func (in *Inbox) Get(taskID string) (*Envelope, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	env, ok := in.byID[taskID]
	if !ok {
		return nil, false
	}
	return env.clone(), true
}

// UpdateStatus transitions task_id to status, rejecting non-monotonic
// transitions and mutation of an already-terminal status.
func (in *Inbox) UpdateStatus(taskID string, status Status, note string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	env, ok := in.byID[taskID]
	if !ok {
		return fmt.Errorf("task: unknown task_id %s", taskID)
	}
	if isTerminal(env.Status) {
		return fmt.Errorf("task: %s is already terminal (%s)", taskID, env.Status)
	}
	if env.Status != status {
		if allowed := validTransitions[env.Status]; allowed == nil || !allowed[status] {
			return fmt.Errorf("task: invalid transition %s -> %s", env.Status, status)
		}
	}
	env.Status = status
	env.Events = append(env.Events, Event{Timestamp: time.Now(), Kind: "status:" + string(status), Note: note})
	return in.persist(env)
}

// AssignWorker records which worker a task was dispatched to. An
// already-assigned worker is never re-assigned.
func (in *Inbox) AssignWorker(taskID, workerID, reason string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	env, ok := in.byID[taskID]
	if !ok {
		return fmt.Errorf("task: unknown task_id %s", taskID)
	}
	if env.AssignedWorkerID != "" {
		return fmt.Errorf("task: %s already assigned to worker %s", taskID, env.AssignedWorkerID)
	}
	env.AssignedWorkerID = workerID
	env.DispatchReason = reason
	env.Events = append(env.Events, Event{Timestamp: time.Now(), Kind: "assigned", Note: workerID})
	return in.persist(env)
}

// Complete marks a task completed with its result and final_output.
// final_output is only meaningful once status=completed.
func (in *Inbox) Complete(taskID string, result interface{}, finalOutput string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	env, ok := in.byID[taskID]
	if !ok {
		return fmt.Errorf("task: unknown task_id %s", taskID)
	}
	if isTerminal(env.Status) {
		return fmt.Errorf("task: %s is already terminal (%s)", taskID, env.Status)
	}
	env.Status = StatusCompleted
	env.Result = result
	env.FinalOutput = finalOutput
	env.Events = append(env.Events, Event{Timestamp: time.Now(), Kind: "completed"})
	return in.persist(env)
}

// Fail marks a task failed, incrementing retry_count on the envelope.
func (in *Inbox) Fail(taskID string, cause error) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	env, ok := in.byID[taskID]
	if !ok {
		return fmt.Errorf("task: unknown task_id %s", taskID)
	}
	if isTerminal(env.Status) {
		return fmt.Errorf("task: %s is already terminal (%s)", taskID, env.Status)
	}
	env.Status = StatusFailed
	env.RetryCount++
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	env.Events = append(env.Events, Event{Timestamp: time.Now(), Kind: "failed", Note: msg})
	return in.persist(env)
}

// Cancel marks a task cancelled (user-initiated /cancel or CLI
// cancel-task).
func (in *Inbox) Cancel(taskID, reason string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	env, ok := in.byID[taskID]
	if !ok {
		return fmt.Errorf("task: unknown task_id %s", taskID)
	}
	if isTerminal(env.Status) {
		return fmt.Errorf("task: %s is already terminal (%s)", taskID, env.Status)
	}
	env.Status = StatusCancelled
	env.Events = append(env.Events, Event{Timestamp: time.Now(), Kind: "cancelled", Note: reason})
	return in.persist(env)
}

// ListPending returns up to limit pending envelopes ordered by
// priority (high < normal < low) then created_at ascending.
func (in *Inbox) ListPending(limit int) []*Envelope {
	in.mu.Lock()
	defer in.mu.Unlock()

	var pending []*Envelope
	for _, env := range in.byID {
		if env.Status == StatusPending {
			pending = append(pending, env)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority.rank() != pending[j].Priority.rank() {
			return pending[i].Priority.rank() < pending[j].Priority.rank()
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*Envelope, len(pending))
	for i, env := range pending {
		out[i] = env.clone()
	}
	return out
}

// List returns a copy of every envelope currently tracked, for the CLI
// list-tasks surface.
func (in *Inbox) List() []*Envelope {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*Envelope, 0, len(in.byID))
	for _, env := range in.byID {
		out = append(out, env.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// persist must be called with in.mu held.
func (in *Inbox) persist(env *Envelope) error {
	payload := envelopeToPayload(env)
	return in.store.WriteState(filepath.Join(tasksDir, env.TaskID+".md"), payload)
}

func envelopeToPayload(env *Envelope) *state.Payload {
	p := state.NewPayload()
	p.Set("task_id", env.TaskID)
	p.Set("source", string(env.Source))
	p.Set("goal", env.Goal)
	if env.Payload != nil {
		p.Set("payload", env.Payload)
	}
	p.Set("priority", string(env.Priority))
	p.Set("user_id", env.UserID)
	p.Set("platform", env.Platform)
	p.Set("requires_reply", env.RequiresReply)
	p.Set("created_at", env.CreatedAt)
	p.Set("status", string(env.Status))
	if env.AssignedWorkerID != "" {
		p.Set("assigned_worker_id", env.AssignedWorkerID)
	}
	if env.DispatchReason != "" {
		p.Set("dispatch_reason", env.DispatchReason)
	}
	if env.Result != nil {
		p.Set("result", env.Result)
	}
	if env.FinalOutput != "" {
		p.Set("final_output", env.FinalOutput)
	}
	p.Set("retry_count", env.RetryCount)
	p.Set("events", env.Events)
	return p
}

func envelopeFromPayload(p *state.Payload) *Envelope {
	env := &Envelope{}
	var s string
	p.Get("task_id", &env.TaskID)
	if p.Get("source", &s) {
		env.Source = Source(s)
	}
	p.Get("goal", &env.Goal)
	p.Get("payload", &env.Payload)
	if p.Get("priority", &s) {
		env.Priority = Priority(s)
	}
	p.Get("user_id", &env.UserID)
	p.Get("platform", &env.Platform)
	p.Get("requires_reply", &env.RequiresReply)
	p.Get("created_at", &env.CreatedAt)
	if p.Get("status", &s) {
		env.Status = Status(s)
	}
	p.Get("assigned_worker_id", &env.AssignedWorkerID)
	p.Get("dispatch_reason", &env.DispatchReason)
	p.Get("result", &env.Result)
	p.Get("final_output", &env.FinalOutput)
	p.Get("retry_count", &env.RetryCount)
	p.Get("events", &env.Events)
	return env
}
