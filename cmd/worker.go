package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/xbot/internal/worker"
)

func inspectWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-worker <id>",
		Short: "Print a Worker's record and task log tail",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			workers, err := openWorkerStore()
			if err != nil {
				fail(ExitUserError, "inspect-worker: %s", err)
			}
			rec, ok := workers.Get(args[0])
			if !ok {
				fail(ExitUserError, "inspect-worker: no such worker %q", args[0])
			}

			fmt.Printf("worker_id:      %s\n", rec.WorkerID)
			fmt.Printf("name:           %s\n", rec.Name)
			fmt.Printf("backend:        %s\n", rec.Backend)
			fmt.Printf("status:         %s\n", rec.Status)
			fmt.Printf("workspace_path: %s\n", rec.WorkspacePath)
			if len(rec.Capabilities) > 0 {
				fmt.Printf("capabilities:   %v\n", rec.Capabilities)
			}
			if rec.SoulPath != "" {
				fmt.Printf("soul_path:      %s\n", rec.SoulPath)
			}

			_, store, err := openStore()
			if err != nil {
				return
			}
			taskLog, err := worker.OpenTaskLog(store.DataDir())
			if err != nil {
				return
			}
			events, err := taskLog.All()
			if err != nil {
				return
			}
			fmt.Println("recent task log events:")
			shown := 0
			for i := len(events) - 1; i >= 0 && shown < 10; i-- {
				if events[i].WorkerID != rec.WorkerID {
					continue
				}
				fmt.Printf("  [%s] task=%s status=%s\n", events[i].CreatedAt.Format("2006-01-02T15:04:05Z07:00"), events[i].TaskID, events[i].Status)
				shown++
			}
		},
	}
}
