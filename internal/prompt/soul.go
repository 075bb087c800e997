// Package prompt implements the Prompt Composer & SOUL (spec.md
// §4.9): layered system-prompt construction plus the SOUL files that
// carry per-role persona.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/xbot/internal/state"
)

// Role identifies which SOUL a turn is composed with. The same
// Orchestrator implementation serves both — only SOUL and tool
// profile differ (spec.md §8's "one loop, two roles").
type Role string

const (
	RoleManager Role = "manager"
	RoleWorker  Role = "worker"
)

// ManagerSoulPath is the canonical location of the Manager's SOUL
// (spec.md §4.3 step 1).
const ManagerSoulPath = "kernel/core-manager/SOUL.MD"

// WorkerSoulPath derives a named worker's SOUL path under its own
// workspace (spec.md §4.6's `soul_path` field).
func WorkerSoulPath(workerID string) string {
	return "kernel/workers/" + workerID + "/SOUL.MD"
}

const defaultManagerSoul = `You are the Core Manager: curious, concise, and you govern the worker fleet.
You answer directly when a task needs no delegation, and dispatch to a worker
when a task is long-running, isolated, or outside your own tool scope.
You never fabricate tool results; every claim about the filesystem, a
worker, or an extension traces back to an actual tool observation.`

const defaultWorkerSoul = `You are a dispatched Worker. Accept your instruction, execute it with
the primitives and extensions you've been granted, and report one
structured result. You never re-dispatch to another worker and you
never claim to have memory tools you were not given.`

// LoadSoul reads the persona text stored at path's "persona" field,
// seeding it with a default if the file is missing or cannot be read
// as a state file (SaveSoul backs up any existing content first).
func LoadSoul(store *state.Store, path string, role Role) (string, error) {
	payload, _, err := store.ReadState(path)
	if err != nil {
		def := defaultWorkerSoul
		if role == RoleManager {
			def = defaultManagerSoul
		}
		if serr := SaveSoul(store, path, def); serr != nil {
			return "", serr
		}
		return def, nil
	}
	var persona string
	payload.Get("persona", &persona)
	return persona, nil
}

// SaveSoul writes persona to path, keeping a timestamped backup of
// whatever was there before — SOUL files are "canonical state files
// versioned with backup-on-write" per spec.md §4.9, a stronger
// guarantee than the State Store's own parse-failure-only backup, so
// SaveSoul takes the backup itself before delegating to WriteState.
func SaveSoul(store *state.Store, path, persona string) error {
	fullPath := filepath.Join(store.DataDir(), path)
	if existing, err := os.ReadFile(fullPath); err == nil {
		backupPath := fmt.Sprintf("%s.bak-%s", fullPath, time.Now().Format("20060102-150405"))
		if werr := os.WriteFile(backupPath, existing, 0o644); werr != nil {
			return fmt.Errorf("prompt: backup %s: %w", path, werr)
		}
	}

	payload := state.NewPayload()
	payload.Set("persona", persona)
	return store.WriteState(path, payload)
}
