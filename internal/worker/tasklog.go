package worker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	taskLogBeginMarker = "<!-- XBOT_STATE_BEGIN -->"
	taskLogEndMarker   = "<!-- XBOT_STATE_END -->"
)

// TaskLogEvent is one append-only entry in data/WORKER_TASKS.jsonl
// (spec.md §6).
type TaskLogEvent struct {
	TaskID     string    `json:"task_id"`
	WorkerID   string    `json:"worker_id"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count"`
	Events     []string  `json:"events,omitempty"`
}

// TaskLog is the append-only event log for dispatched worker tasks.
// Every writer coordinates via an OS-level advisory lock on the file
// descriptor (spec.md §4.6's "File locking" requirement), implemented
// with gofrs/flock since the teacher's own pack never needed a
// cross-process file lock.
type TaskLog struct {
	path string
	lock *flock.Flock
}

// OpenTaskLog prepares the task log at dataDir/WORKER_TASKS.jsonl,
// creating it with empty begin/end markers if absent.
func OpenTaskLog(dataDir string) (*TaskLog, error) {
	path := filepath.Join(dataDir, "WORKER_TASKS.jsonl")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("worker: mkdir for %s: %w", path, err)
		}
		initial := taskLogBeginMarker + "\n" + taskLogEndMarker + "\n"
		if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
			return nil, fmt.Errorf("worker: init %s: %w", path, err)
		}
	}
	return &TaskLog{path: path, lock: flock.New(path + ".lock")}, nil
}

// Append inserts event as a new line immediately before the trailing
// end marker, under an exclusive advisory lock.
func (tl *TaskLog) Append(event TaskLogEvent) error {
	if err := tl.lock.Lock(); err != nil {
		return fmt.Errorf("worker: lock %s: %w", tl.path, err)
	}
	defer tl.lock.Unlock()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("worker: marshal task log event: %w", err)
	}

	data, err := os.ReadFile(tl.path)
	if err != nil {
		return fmt.Errorf("worker: read %s: %w", tl.path, err)
	}
	text := string(data)
	idx := strings.LastIndex(text, taskLogEndMarker)
	if idx < 0 {
		text = taskLogBeginMarker + "\n" + taskLogEndMarker + "\n"
		idx = strings.LastIndex(text, taskLogEndMarker)
	}

	var b bytes.Buffer
	b.WriteString(text[:idx])
	b.Write(line)
	b.WriteByte('\n')
	b.WriteString(text[idx:])

	tmp := tl.path + ".tmp"
	if err := os.WriteFile(tmp, b.Bytes(), 0o644); err != nil {
		return fmt.Errorf("worker: write %s: %w", tl.path, err)
	}
	if err := os.Rename(tmp, tl.path); err != nil {
		return fmt.Errorf("worker: rename %s: %w", tl.path, err)
	}
	return nil
}

// All reads and decodes every event currently in the log, for the
// `inspect-worker`/`replay-task` CLI surface.
func (tl *TaskLog) All() ([]TaskLogEvent, error) {
	if err := tl.lock.RLock(); err != nil {
		return nil, fmt.Errorf("worker: rlock %s: %w", tl.path, err)
	}
	defer tl.lock.Unlock()

	f, err := os.Open(tl.path)
	if err != nil {
		return nil, fmt.Errorf("worker: open %s: %w", tl.path, err)
	}
	defer f.Close()

	var events []TaskLogEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == taskLogBeginMarker || line == taskLogEndMarker {
			continue
		}
		var ev TaskLogEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}
