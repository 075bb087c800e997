package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func listTasksCmd() *cobra.Command {
	var statusFilter string
	c := &cobra.Command{
		Use:   "list-tasks",
		Short: "List Task Inbox envelopes",
		Run: func(cmd *cobra.Command, args []string) {
			inbox, err := openInbox()
			if err != nil {
				fail(ExitUserError, "list-tasks: %s", err)
			}
			envelopes := inbox.List()
			sort.Slice(envelopes, func(i, j int) bool {
				return envelopes[i].CreatedAt.Before(envelopes[j].CreatedAt)
			})
			fmt.Printf("%-36s %-10s %-10s %-8s %-20s %s\n", "TASK_ID", "SOURCE", "PRIORITY", "STATUS", "USER_ID", "GOAL")
			for _, env := range envelopes {
				if statusFilter != "" && string(env.Status) != statusFilter {
					continue
				}
				goal := env.Goal
				if len(goal) > 60 {
					goal = goal[:57] + "..."
				}
				fmt.Printf("%-36s %-10s %-10s %-8s %-20s %s\n", env.TaskID, env.Source, env.Priority, env.Status, env.UserID, goal)
			}
		},
	}
	c.Flags().StringVar(&statusFilter, "status", "", "filter by status (pending, running, completed, failed, cancelled)")
	return c
}

func replayTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay-task <id>",
		Short: "Print a task envelope's full event history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			inbox, err := openInbox()
			if err != nil {
				fail(ExitUserError, "replay-task: %s", err)
			}
			env, ok := inbox.Get(args[0])
			if !ok {
				fail(ExitUserError, "replay-task: no such task %q", args[0])
			}
			fmt.Printf("task_id:       %s\n", env.TaskID)
			fmt.Printf("source:        %s\n", env.Source)
			fmt.Printf("status:        %s\n", env.Status)
			fmt.Printf("priority:      %s\n", env.Priority)
			fmt.Printf("user_id:       %s\n", env.UserID)
			fmt.Printf("goal:          %s\n", env.Goal)
			fmt.Printf("retry_count:   %d\n", env.RetryCount)
			if env.AssignedWorkerID != "" {
				fmt.Printf("worker:        %s (%s)\n", env.AssignedWorkerID, env.DispatchReason)
			}
			if env.FinalOutput != "" {
				fmt.Printf("final_output:  %s\n", env.FinalOutput)
			}
			fmt.Println("events:")
			for _, ev := range env.Events {
				note := ev.Note
				if note != "" {
					note = " — " + note
				}
				fmt.Printf("  [%s] %s%s\n", ev.Timestamp.Format("2006-01-02T15:04:05Z07:00"), ev.Kind, note)
			}
		},
	}
}

func cancelTaskCmd() *cobra.Command {
	var reason string
	c := &cobra.Command{
		Use:   "cancel-task <id>",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			inbox, err := openInbox()
			if err != nil {
				fail(ExitUserError, "cancel-task: %s", err)
			}
			if _, ok := inbox.Get(args[0]); !ok {
				fail(ExitUserError, "cancel-task: no such task %q", args[0])
			}
			if err := inbox.Cancel(args[0], reason); err != nil {
				fail(ExitStateCorrupted, "cancel-task: %s", err)
			}
			fmt.Printf("cancelled %s\n", args[0])
		},
	}
	c.Flags().StringVar(&reason, "reason", "cancelled via CLI", "cancellation reason recorded in the task's event log")
	return c
}
