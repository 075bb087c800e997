package scheduler

import (
	"github.com/nextlevelbuilder/xbot/internal/state"
)

// scheduledTasksRelPath is the per-user state-file path spec.md §4.8
// names for cron entries.
const scheduledTasksRelPath = "automation/scheduled_tasks.md"

// Load reads userID's scheduled_tasks.md via the State Store,
// returning an empty slice (not an error) if the user has none yet.
func Load(store *state.Store, userID string) ([]Entry, error) {
	path := store.UserPath(userID, scheduledTasksRelPath)
	payload, _, err := store.ReadState(path)
	if err != nil {
		return nil, nil
	}
	var entries []Entry
	payload.Get("entries", &entries)
	return entries, nil
}

// Save writes userID's entries back through the State Store, so a
// human editing scheduled_tasks.md directly and the Scheduler's own
// last_run/next_run bookkeeping share one canonical file.
func Save(store *state.Store, userID string, entries []Entry) error {
	path := store.UserPath(userID, scheduledTasksRelPath)
	payload := state.NewPayload()
	payload.Set("entries", entries)
	return store.WriteState(path, payload)
}

// Path returns the on-disk path for userID's scheduled_tasks.md,
// used by the reconciliation loop to watch mtime for hot reload.
// state.Store.UserPath already returns an absolute, DataDir-rooted
// path, so it is used directly rather than joined again.
func Path(store *state.Store, userID string) string {
	return store.UserPath(userID, scheduledTasksRelPath)
}
