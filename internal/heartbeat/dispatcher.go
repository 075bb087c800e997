package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/xbot/internal/bus"
	"github.com/nextlevelbuilder/xbot/internal/state"
	"github.com/nextlevelbuilder/xbot/internal/task"
)

const tickInterval = 1 * time.Second

// Dispatcher is the single process-wide scanner spec.md §4.7 describes:
// "A single dispatcher scans the user set on a 1-second tick".
type Dispatcher struct {
	store   *state.Store
	inbox   *task.Inbox
	events  bus.EventPublisher
	log     *logWriter
	subJobs []SubJob
}

// New builds a Dispatcher. events may be nil if no bus is wired.
func New(store *state.Store, inbox *task.Inbox, events bus.EventPublisher) *Dispatcher {
	return &Dispatcher{
		store:   store,
		inbox:   inbox,
		events:  events,
		log:     newLogWriter(store.DataDir()),
		subJobs: DefaultSubJobs(),
	}
}

// Run ticks every second until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx, time.Now())
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context, now time.Time) {
	userIDs, err := d.store.ListUserIDs()
	if err != nil {
		slog.Warn("heartbeat.list_users_failed", "error", err)
		return
	}
	for _, userID := range userIDs {
		d.tickUser(ctx, userID, now)
	}
}

func (d *Dispatcher) tickUser(ctx context.Context, userID string, now time.Time) {
	st, err := loadStatus(d.store.DataDir(), userID)
	if err != nil {
		slog.Warn("heartbeat.load_status_failed", "user_id", userID, "error", err)
		return
	}
	if !st.dueAt(now) {
		return
	}
	if st.ActiveTaskID != "" {
		return // previous heartbeat task still running
	}

	results := make([]SubJobResult, 0, len(d.subJobs))
	for _, job := range d.subJobs {
		r, err := job.Run(ctx, userID)
		if err != nil {
			slog.Warn("heartbeat.subjob_failed", "user_id", userID, "job", job.Name(), "error", err)
			continue
		}
		results = append(results, r)
	}

	env, err := d.inbox.Submit(task.SourceHeartbeat, heartbeatGoal(results), userID, map[string]interface{}{
		"subjob_results": results,
	}, task.PriorityNormal, true)
	if err != nil {
		slog.Warn("heartbeat.submit_failed", "user_id", userID, "error", err)
		return
	}

	st.ActiveTaskID = env.TaskID
	st.LastPulse = &now
	next := now.Add(time.Duration(st.EverySeconds) * time.Second)
	st.NextDue = &next
	if err := saveStatus(d.store.DataDir(), userID, st); err != nil {
		slog.Warn("heartbeat.save_status_failed", "user_id", userID, "error", err)
	}
}

func heartbeatGoal(results []SubJobResult) string {
	var sb strings.Builder
	sb.WriteString("Run scheduled heartbeat maintenance. Sub-job results:\n")
	for _, r := range results {
		changed := "no change"
		if r.Changed {
			changed = r.Summary
		}
		fmt.Fprintf(&sb, "- %s: %s\n", r.Name, changed)
	}
	sb.WriteString("If every sub-job reports no change, reply with exactly HEARTBEAT_OK. Otherwise reply with a single NOTICE line or a full ACTION message listing the items.")
	return sb.String()
}

// ClassifyGrade maps a completed heartbeat task's final output to a
// Grade: the bare HEARTBEAT_OK sentinel grades OK, a reply opening
// with "NOTICE" grades NOTICE, anything else (including "ACTION")
// grades ACTION, matching spec.md §4.7's three-grade scale.
func ClassifyGrade(finalOutput string) Grade {
	text := strings.TrimSpace(finalOutput)
	if text == "HEARTBEAT_OK" {
		return GradeOK
	}
	if strings.HasPrefix(strings.ToUpper(text), "NOTICE") {
		return GradeNotice
	}
	return GradeAction
}

// RecordResult is called once the Task Inbox envelope a tick submitted
// has been completed, closing the loop: it clears active_task_id,
// appends the grade to HEARTBEAT.md, and publishes heartbeat.grade on
// the bus (spec.md §4.7: "Grade is chosen by the Manager based on
// sub-job results").
func (d *Dispatcher) RecordResult(userID string, grade Grade, summary string, now time.Time) error {
	st, err := loadStatus(d.store.DataDir(), userID)
	if err != nil {
		return err
	}
	st.ActiveTaskID = ""
	st.LastGrade = grade
	if err := saveStatus(d.store.DataDir(), userID, st); err != nil {
		return err
	}
	if err := d.log.Append(userID, now, grade, summary); err != nil {
		return err
	}
	if d.events != nil {
		d.events.Broadcast(bus.Event{
			Name: bus.EventHeartbeatGrade,
			Payload: map[string]interface{}{
				"user_id": userID,
				"grade":   string(grade),
				"summary": summary,
			},
		})
	}
	return nil
}
