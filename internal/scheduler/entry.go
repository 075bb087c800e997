// Package scheduler implements hot-reloadable cron-style triggers
// feeding the Task Inbox (spec.md §4.8). No concrete internal/scheduler
// package was present in the retrieved pack — cmd/gateway_cron.go
// references one (scheduler.Scheduler, scheduler.LaneCron,
// sched.Schedule) but its implementation files were never retrieved,
// so only that call shape carried over as grounding; the entry storage
// format and reconciliation loop below are built directly against
// spec.md §4.8.
package scheduler

import "time"

// Entry is one crontab-driven trigger stored in a user's
// scheduled_tasks.md (spec.md §4.8's "{id, crontab, instruction,
// enabled, last_run?, next_run?}").
type Entry struct {
	ID          string     `yaml:"id" json:"id"`
	Crontab     string     `yaml:"crontab" json:"crontab"` // 5-field cron expression
	Instruction string     `yaml:"instruction" json:"instruction"`
	Enabled     bool       `yaml:"enabled" json:"enabled"`
	LastRun     *time.Time `yaml:"last_run,omitempty" json:"last_run,omitempty"`
	NextRun     *time.Time `yaml:"next_run,omitempty" json:"next_run,omitempty"`
}
