package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	version = "dev"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "interviewcoach",
		Short: "Real-time interview monitoring and voice coordinator",
		Long: `Runs mock interview sessions: behaviour signal aggregation from client
frames, speech turn coordination, throttled live feedback and the session timer.

Without a subcommand the server is started.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
