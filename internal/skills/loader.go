package skills

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader discovers and holds SkillDescriptors from
// skills/{builtin,learned}/<name>/SKILL.md. Builtins are loaded once;
// learned skills are re-scanned whenever fsnotify observes a change
// under the learned directory (spec.md §3's "only learned skills are
// mutable at runtime" invariant).
type Loader struct {
	root string

	mu    sync.RWMutex
	byName map[string]*Descriptor

	watcher *fsnotify.Watcher
}

// NewLoader builds a Loader rooted at skillsRoot (typically
// DATA_DIR/../skills or a sibling `skills/` tree) and performs the
// initial scan of both kinds.
func NewLoader(skillsRoot string) (*Loader, error) {
	l := &Loader{root: skillsRoot, byName: make(map[string]*Descriptor)}
	if err := l.scanAll(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loader) scanAll() error {
	builtin, err := scanKind(filepath.Join(l.root, "builtin"), KindBuiltin)
	if err != nil {
		return err
	}
	learned, err := scanKind(filepath.Join(l.root, "learned"), KindLearned)
	if err != nil {
		return err
	}

	merged := make(map[string]*Descriptor, len(builtin)+len(learned))
	for _, d := range builtin {
		merged[d.Name] = d
	}
	for _, d := range learned {
		merged[d.Name] = d
	}

	l.mu.Lock()
	l.byName = merged
	l.mu.Unlock()
	return nil
}

func scanKind(dir string, kind Kind) ([]*Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Descriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillFile := filepath.Join(dir, entry.Name(), "SKILL.md")
		if _, err := os.Stat(skillFile); err != nil {
			continue
		}
		d, err := ParseDescriptor(skillFile, kind)
		if err != nil {
			slog.Warn("skills.loader.skip_invalid", "path", skillFile, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Get returns the descriptor for name, or false if not found.
func (l *Loader) Get(name string) (*Descriptor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.byName[name]
	return d, ok
}

// List returns every currently loaded descriptor.
func (l *Loader) List() []*Descriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Descriptor, 0, len(l.byName))
	for _, d := range l.byName {
		out = append(out, d)
	}
	return out
}

// WatchLearned starts an fsnotify watch on skills/learned and
// re-scans both kinds whenever it fires, until stop is called. No
// teacher package uses fsnotify for hot reload; this mirrors the same
// rescan-on-change idea the Scheduler uses for scheduled_tasks.md.
func (l *Loader) WatchLearned() (stop func(), err error) {
	dir := filepath.Join(l.root, "learned")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	l.watcher = watcher

	done := make(chan struct{})
	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				if err := l.scanAll(); err != nil {
					slog.Warn("skills.loader.rescan_failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("skills.loader.watch_error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
