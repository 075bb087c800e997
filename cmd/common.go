package cmd

import (
	"fmt"
	"os"

	"github.com/nextlevelbuilder/xbot/internal/config"
	"github.com/nextlevelbuilder/xbot/internal/state"
	"github.com/nextlevelbuilder/xbot/internal/task"
	"github.com/nextlevelbuilder/xbot/internal/worker"
)

// openStore loads config and opens the State Store, the shared
// starting point for every operational CLI command.
func openStore() (*config.Config, *state.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := state.New(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}
	return cfg, store, nil
}

func openInbox() (*task.Inbox, error) {
	_, store, err := openStore()
	if err != nil {
		return nil, err
	}
	return task.New(store)
}

func openWorkerStore() (*worker.Store, error) {
	_, store, err := openStore()
	if err != nil {
		return nil, err
	}
	return worker.Open(store.DataDir())
}

// fail prints msg to stderr and exits with code — the exit-code
// contract spec.md §6 assigns the operational CLI surface.
func fail(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
