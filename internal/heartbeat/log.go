package heartbeat

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// logWriter appends one line per heartbeat tick to a user's
// HEARTBEAT.md, the markdown grade log named by spec.md §4.7 and
// seeded by the teacher's bootstrap file list (HeartbeatFile in
// internal/bootstrap/seed.go, "HEARTBEAT.md" in
// internal/http/summoner.go's seeding list).
type logWriter struct {
	dataDir string
	mu      sync.Mutex
}

func newLogWriter(dataDir string) *logWriter {
	return &logWriter{dataDir: dataDir}
}

func (w *logWriter) path(userID string) string {
	return filepath.Join(w.dataDir, "users", userID, "automation", "HEARTBEAT.md")
}

// Append records one tick's grade and summary line. Silent (GradeOK)
// ticks are still logged, so the file reads as a continuous pulse
// trace rather than only an incident log.
func (w *logWriter) Append(userID string, now time.Time, grade Grade, summary string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.path(userID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("heartbeat: mkdir for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("heartbeat: open %s: %w", path, err)
	}
	defer f.Close()

	line := fmt.Sprintf("- %s [%s] %s\n", now.UTC().Format(time.RFC3339), grade, summary)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("heartbeat: append %s: %w", path, err)
	}
	return nil
}
