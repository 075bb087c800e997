package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/xbot/internal/agent"
	"github.com/nextlevelbuilder/xbot/internal/heartbeat"
	"github.com/nextlevelbuilder/xbot/internal/task"
	"github.com/nextlevelbuilder/xbot/internal/tools"
	"github.com/nextlevelbuilder/xbot/internal/tracing"
)

// backgroundTaskInterval is the poll cadence for Task Inbox envelopes
// that arrive from sources with no interactive consumer of their own
// (Scheduler's source=cron, Heartbeat's source=heartbeat). Both
// producers already tick on their own cadence (30s, 1s); this loop
// only needs to be frequent enough not to add visible latency on top.
const backgroundTaskInterval = 2 * time.Second

// runBackgroundTaskLoop drains source=cron and source=heartbeat
// envelopes the Scheduler and Heartbeat Dispatcher submit into the
// Task Inbox but never run themselves (spec.md §4.7/§4.8: both only
// decide *when* a tick is due and hand the resulting goal to the
// Manager). Each due envelope is run through the same Orchestrator the
// user_chat loop uses, then completed/failed, with heartbeat envelopes
// additionally closing the grade-recording loop via hb.RecordResult.
func runBackgroundTaskLoop(ctx context.Context, rt *runtime, hb *heartbeat.Dispatcher, systemPrompt string) {
	ticker := time.NewTicker(backgroundTaskInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, env := range rt.inbox.ListPending(0) {
				if env.Source != task.SourceCron && env.Source != task.SourceHeartbeat {
					continue
				}
				runBackgroundTask(ctx, rt, hb, systemPrompt, env)
			}
		}
	}
}

func runBackgroundTask(ctx context.Context, rt *runtime, hb *heartbeat.Dispatcher, systemPrompt string, env *task.Envelope) {
	if err := rt.inbox.UpdateStatus(env.TaskID, task.StatusRunning, "background dispatch"); err != nil {
		slog.Warn("serve.background_claim_failed", "task_id", env.TaskID, "error", err)
		return
	}

	sessionKey := fmt.Sprintf("manager:%s:%s", env.Source, env.UserID)
	runCtx := tracing.WithCollector(ctx, rt.collector)
	runCtx = tracing.WithTraceID(runCtx, uuid.New())

	result, runErr := rt.orch.RunTurn(runCtx, agent.TurnRequest{
		SessionKey:   sessionKey,
		UserID:       env.UserID,
		Profile:      string(tools.ProfileManager),
		Workspace:    rt.store.DataDir(),
		SystemPrompt: systemPrompt,
		UserMessage:  env.Goal,
		TaskID:       env.TaskID,
	})

	now := time.Now()
	switch {
	case runErr != nil:
		_ = rt.inbox.Fail(env.TaskID, runErr)
		if env.Source == task.SourceHeartbeat {
			_ = hb.RecordResult(env.UserID, heartbeat.GradeAction, runErr.Error(), now)
		}
	case !result.Ok:
		_ = rt.inbox.Fail(env.TaskID, fmt.Errorf("%s", result.Error))
		if env.Source == task.SourceHeartbeat {
			_ = hb.RecordResult(env.UserID, heartbeat.GradeAction, result.Error, now)
		}
	default:
		_ = rt.inbox.Complete(env.TaskID, result, result.FinalText)
		if env.Source == task.SourceHeartbeat {
			grade := heartbeat.ClassifyGrade(result.FinalText)
			summary := result.FinalText
			if grade == heartbeat.GradeOK {
				summary = "no change"
			}
			_ = hb.RecordResult(env.UserID, grade, summary, now)
		}
	}
}
