package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/xbot/cmd.Version=v1.0.0"
var Version = "dev"

// Exit codes per spec.md §6's CLI surface contract.
const (
	ExitOK             = 0
	ExitUserError      = 2
	ExitStateCorrupted = 3
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "xbot",
	Short: "xbot — agentic core gateway",
	Long:  "xbot: task intake, LLM-driven orchestration, sandboxed skill/tool execution, and a file-backed canonical state protocol.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $XBOT_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(listTasksCmd())
	rootCmd.AddCommand(inspectWorkerCmd())
	rootCmd.AddCommand(replayTaskCmd())
	rootCmd.AddCommand(cancelTaskCmd())
	rootCmd.AddCommand(migrateStateCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("xbot %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("XBOT_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitUserError)
	}
}
