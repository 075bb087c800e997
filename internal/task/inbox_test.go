package task

import (
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/xbot/internal/state"
)

func newTestInbox(t *testing.T) *Inbox {
	t.Helper()
	st, err := state.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	in, err := New(st)
	if err != nil {
		t.Fatal(err)
	}
	return in
}

func TestSubmitAndLifecycleMonotonicity(t *testing.T) {
	in := newTestInbox(t)
	env, err := in.Submit(SourceUserChat, "hello", "u1", nil, PriorityNormal, true)
	if err != nil {
		t.Fatal(err)
	}
	if env.Status != StatusPending {
		t.Fatalf("status = %s, want pending", env.Status)
	}

	if err := in.UpdateStatus(env.TaskID, StatusRunning, ""); err != nil {
		t.Fatal(err)
	}
	if err := in.Complete(env.TaskID, map[string]string{"ok": "true"}, "hi there"); err != nil {
		t.Fatal(err)
	}

	got, ok := in.Get(env.TaskID)
	if !ok {
		t.Fatal("task not found")
	}
	if got.Status != StatusCompleted || got.FinalOutput != "hi there" {
		t.Fatalf("unexpected final state: %+v", got)
	}

	// terminal status must reject further mutation
	if err := in.UpdateStatus(env.TaskID, StatusRunning, ""); err == nil {
		t.Fatal("expected error mutating terminal task")
	}
}

func TestAssignWorkerNoReassign(t *testing.T) {
	in := newTestInbox(t)
	env, _ := in.Submit(SourceUserChat, "deploy x", "u1", nil, PriorityNormal, true)
	if err := in.AssignWorker(env.TaskID, "w1", "capability match"); err != nil {
		t.Fatal(err)
	}
	if err := in.AssignWorker(env.TaskID, "w2", "retry"); err == nil {
		t.Fatal("expected error re-assigning worker")
	}
}

func TestListPendingPriorityThenFIFO(t *testing.T) {
	in := newTestInbox(t)
	low, _ := in.Submit(SourceCron, "low task", "u1", nil, PriorityLow, false)
	time.Sleep(time.Millisecond)
	high, _ := in.Submit(SourceUserChat, "high task", "u1", nil, PriorityHigh, true)
	time.Sleep(time.Millisecond)
	normalFirst, _ := in.Submit(SourceHeartbeat, "normal 1", "u1", nil, PriorityNormal, false)
	time.Sleep(time.Millisecond)
	normalSecond, _ := in.Submit(SourceHeartbeat, "normal 2", "u1", nil, PriorityNormal, false)

	pending := in.ListPending(0)
	if len(pending) != 4 {
		t.Fatalf("len = %d, want 4", len(pending))
	}
	want := []string{high.TaskID, normalFirst.TaskID, normalSecond.TaskID, low.TaskID}
	for i, id := range want {
		if pending[i].TaskID != id {
			t.Fatalf("position %d = %s, want %s", i, pending[i].TaskID, id)
		}
	}
}

func TestRehydrationFromDisk(t *testing.T) {
	dir := t.TempDir()
	st, err := state.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	in, err := New(st)
	if err != nil {
		t.Fatal(err)
	}
	env, err := in.Submit(SourceUserChat, "survive restart", "u1", nil, PriorityNormal, true)
	if err != nil {
		t.Fatal(err)
	}

	st2, err := state.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	in2, err := New(st2)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := in2.Get(env.TaskID)
	if !ok {
		t.Fatal("envelope not rehydrated")
	}
	if got.Goal != "survive restart" {
		t.Fatalf("goal = %q", got.Goal)
	}
}

func TestFailIncrementsRetryCount(t *testing.T) {
	in := newTestInbox(t)
	env, _ := in.Submit(SourceUserChat, "flaky", "u1", nil, PriorityNormal, true)
	if err := in.Fail(env.TaskID, errors.New("llm_unavailable")); err != nil {
		t.Fatal(err)
	}
	got, _ := in.Get(env.TaskID)
	if got.RetryCount != 1 || got.Status != StatusFailed {
		t.Fatalf("unexpected state: %+v", got)
	}
}
