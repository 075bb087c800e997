package tracing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

const (
	traceLogBeginMarker = "<!-- XBOT_STATE_BEGIN -->"
	traceLogEndMarker   = "<!-- XBOT_STATE_END -->"
)

// FileSink appends spans as JSON lines to data/TRACES.jsonl, reusing
// the same lock-read-rewrite-rename append pattern as
// internal/worker.TaskLog (no general database per spec.md's
// Non-goals, so the Postgres-backed store the teacher's Collector
// shipped to has no equivalent here).
type FileSink struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewFileSink prepares dataDir/TRACES.jsonl, creating it with empty
// markers if absent.
func NewFileSink(dataDir string) (*FileSink, error) {
	path := filepath.Join(dataDir, "TRACES.jsonl")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("tracing: mkdir for %s: %w", path, err)
		}
		initial := traceLogBeginMarker + "\n" + traceLogEndMarker + "\n"
		if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
			return nil, fmt.Errorf("tracing: init %s: %w", path, err)
		}
	}
	return &FileSink{path: path, lock: flock.New(path + ".lock")}, nil
}

// EmitSpan appends span. Failures are swallowed to a stderr-free
// no-op: a lost trace line must never fail the turn that produced it.
func (s *FileSink) EmitSpan(span SpanData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return
	}
	defer s.lock.Unlock()

	line, err := json.Marshal(span)
	if err != nil {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	text := string(data)
	idx := strings.LastIndex(text, traceLogEndMarker)
	if idx < 0 {
		text = traceLogBeginMarker + "\n" + traceLogEndMarker + "\n"
		idx = strings.LastIndex(text, traceLogEndMarker)
	}

	var b bytes.Buffer
	b.WriteString(text[:idx])
	b.Write(line)
	b.WriteByte('\n')
	b.WriteString(text[idx:])

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b.Bytes(), 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, s.path)
}
