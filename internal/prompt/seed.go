package prompt

import (
	"github.com/nextlevelbuilder/xbot/internal/state"
)

// EnsureWorkerSoul seeds a brand-new worker's SOUL file with the
// default Worker persona if one does not already exist, mirroring the
// teacher's idempotent O_CREATE|O_EXCL template-seeding pattern
// (internal/bootstrap/seed.go's seedTemplate): a file that ReadState
// parses is left untouched; a missing or unparseable one is written
// (SaveSoul backs up any existing content first).
func EnsureWorkerSoul(store *state.Store, workerID string) (created bool, err error) {
	path := WorkerSoulPath(workerID)
	if _, _, err := store.ReadState(path); err == nil {
		return false, nil
	}
	if err := SaveSoul(store, path, defaultWorkerSoul); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureManagerSoul seeds the Manager SOUL file if missing.
func EnsureManagerSoul(store *state.Store) (created bool, err error) {
	if _, _, err := store.ReadState(ManagerSoulPath); err == nil {
		return false, nil
	}
	if err := SaveSoul(store, ManagerSoulPath, defaultManagerSoul); err != nil {
		return false, err
	}
	return true, nil
}
