package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/xbot/internal/state"
	"github.com/nextlevelbuilder/xbot/internal/task"
)

// tickInterval is spec.md §4.8's 30-second reconciliation cadence.
const tickInterval = 30 * time.Second

// Scheduler reconciles every user's scheduled_tasks.md against a
// 5-field crontab due-check on each tick, submitting a low-priority
// Task Inbox envelope for each entry that comes due.
type Scheduler struct {
	store *state.Store
	inbox *task.Inbox
	gron  gronx.Gronx

	mu     sync.Mutex
	mtimes map[string]time.Time // per-user scheduled_tasks.md path -> last-seen mtime
}

// New builds a Scheduler over store/inbox.
func New(store *state.Store, inbox *task.Inbox) *Scheduler {
	return &Scheduler{
		store:  store,
		inbox:  inbox,
		gron:   gronx.New(),
		mtimes: make(map[string]time.Time),
	}
}

// Run ticks every 30 seconds until ctx is cancelled, reconciling the
// live schedule against each user's scheduled_tasks.md file.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	s.reconcileAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileAll(ctx)
		}
	}
}

func (s *Scheduler) reconcileAll(ctx context.Context) {
	userIDs, err := s.store.ListUserIDs()
	if err != nil {
		slog.Warn("scheduler.list_users_failed", "error", err)
		return
	}
	for _, userID := range userIDs {
		s.reconcileUser(ctx, userID)
	}
}

// reconcileUser re-reads userID's scheduled_tasks.md on every tick, so
// edits to the file take effect on the next tick ("modifications to the
// file take effect on the next tick", spec.md §4.8). It records the
// file's mtime but does not skip the read when the mtime is unchanged.
// It then submits every due, enabled entry and persists its
// last_run/next_run bookkeeping.
func (s *Scheduler) reconcileUser(ctx context.Context, userID string) {
	path := Path(s.store, userID)
	info, err := os.Stat(path)
	if err != nil {
		return // user has no scheduled_tasks.md yet
	}

	s.mu.Lock()
	seen, known := s.mtimes[path]
	changed := !known || info.ModTime().After(seen)
	s.mu.Unlock()

	entries, err := Load(s.store, userID)
	if err != nil {
		slog.Warn("scheduler.load_failed", "user_id", userID, "error", err)
		return
	}

	if changed {
		s.mu.Lock()
		s.mtimes[path] = info.ModTime()
		s.mu.Unlock()
	}

	now := time.Now()
	nowMinute := now.Truncate(time.Minute)
	dirty := false
	for i := range entries {
		e := &entries[i]
		if !e.Enabled {
			continue
		}
		due, err := s.gron.IsDue(e.Crontab, now)
		if err != nil {
			slog.Warn("scheduler.invalid_crontab", "user_id", userID, "entry_id", e.ID, "crontab", e.Crontab, "error", err)
			continue
		}
		if !due {
			continue
		}
		// gronx.IsDue is minute-granular but Run ticks every 30s, so the
		// same due minute is checked twice; skip if already fired within
		// this minute so each due minute submits exactly once.
		if e.LastRun != nil && e.LastRun.Truncate(time.Minute).Equal(nowMinute) {
			continue
		}

		if _, err := s.inbox.Submit(task.SourceCron, e.Instruction, userID, map[string]interface{}{
			"scheduled_entry_id": e.ID,
		}, task.PriorityLow, false); err != nil {
			slog.Warn("scheduler.submit_failed", "user_id", userID, "entry_id", e.ID, "error", err)
			continue
		}

		ran := now
		e.LastRun = &ran
		next := nowMinute.Add(time.Minute)
		e.NextRun = &next
		dirty = true
	}

	if dirty {
		if err := Save(s.store, userID, entries); err != nil {
			slog.Warn("scheduler.save_failed", "user_id", userID, "error", err)
		}
	}
}
