package task

import (
	"errors"
	"os"
)

// readDirSafe returns the file names in dir, or an empty slice (not an
// error) if dir does not exist yet — the common case on first boot
// before any task has ever been submitted.
func readDirSafe(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
