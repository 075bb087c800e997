package tools

import "context"

type ctxKey int

const (
	workspaceCtxKey ctxKey = iota
	profileCtxKey
	taskIDCtxKey
)

// WithWorkspace attaches the caller's workspace root (Manager's
// per-user directory, or a Worker's isolated workspace_path) to ctx.
func WithWorkspace(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, workspaceCtxKey, path)
}

// WorkspaceFromContext returns the workspace root stashed by
// WithWorkspace, or "" if none was set.
func WorkspaceFromContext(ctx context.Context) string {
	v, _ := ctx.Value(workspaceCtxKey).(string)
	return v
}

// WithProfile attaches the calling Profile (manager/worker) to ctx so
// primitives like bash can vary their command allow-list.
func WithProfile(ctx context.Context, profile Profile) context.Context {
	return context.WithValue(ctx, profileCtxKey, profile)
}

// ProfileFromContext returns the Profile stashed by WithProfile,
// defaulting to ProfileWorker (the more restrictive profile) when
// unset.
func ProfileFromContext(ctx context.Context) Profile {
	if v, ok := ctx.Value(profileCtxKey).(Profile); ok {
		return v
	}
	return ProfileWorker
}

// WithTaskID attaches the Task Inbox task_id the current turn is
// running under, so a tool (e.g. dispatch_worker) can record
// bookkeeping like AssignWorker against the right envelope.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDCtxKey, taskID)
}

// TaskIDFromContext returns the task_id stashed by WithTaskID, or ""
// if none was set (e.g. a Worker's nested turn has no envelope of its
// own).
func TaskIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(taskIDCtxKey).(string)
	return v
}
