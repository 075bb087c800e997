package cmd

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/xbot/internal/state"
)

func migrateStateCmd() *cobra.Command {
	var apply bool
	var dryRun bool
	c := &cobra.Command{
		Use:   "migrate-state",
		Short: "Rewrite legacy-format state files into the canonical marker+YAML format",
		Run: func(cmd *cobra.Command, args []string) {
			if apply == dryRun {
				fail(ExitUserError, "migrate-state: pass exactly one of --apply or --dry-run")
			}
			_, store, err := openStore()
			if err != nil {
				fail(ExitUserError, "migrate-state: %s", err)
			}
			runMigrateState(store, apply)
		},
	}
	c.Flags().BoolVar(&apply, "apply", false, "rewrite legacy files in canonical form")
	c.Flags().BoolVar(&dryRun, "dry-run", false, "list legacy files without modifying them")
	return c
}

func runMigrateState(store *state.Store, apply bool) {
	var legacy []string
	var corrupted []string

	err := filepath.WalkDir(store.DataDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		payload, source, readErr := store.ReadState(path)
		if readErr != nil {
			corrupted = append(corrupted, path)
			return nil
		}
		if source == state.SourceCanonical {
			return nil
		}
		legacy = append(legacy, path)
		if apply {
			if writeErr := store.WriteState(path, payload); writeErr != nil {
				fmt.Printf("  FAILED %s: %s\n", path, writeErr)
			}
		}
		return nil
	})
	if err != nil {
		fail(ExitStateCorrupted, "migrate-state: walk %s: %s", store.DataDir(), err)
	}

	verb := "would migrate"
	if apply {
		verb = "migrated"
	}
	for _, path := range legacy {
		fmt.Printf("  %s %s\n", verb, path)
	}
	fmt.Printf("%d legacy file(s), %d corrupted file(s)\n", len(legacy), len(corrupted))
	for _, path := range corrupted {
		fmt.Printf("  CORRUPT %s\n", path)
	}
	if len(corrupted) > 0 {
		fail(ExitStateCorrupted, "migrate-state: %d file(s) require manual review", len(corrupted))
	}
}
