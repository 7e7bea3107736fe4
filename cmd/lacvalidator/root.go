package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:          "lacvalidator",
		Short:        "Validate children's social care returns with the rule engine",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadEnv(envFiles)
		},
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load (default .env)")

	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newValidateCmd(),
		newDefinitionsCmd(),
	)
	return cmd
}

// loadEnv loads env files, overwriting variables already set. The stdio
// worker inherits the result through its environment.
func loadEnv(files []string) {
	if err := godotenv.Overload(files...); err != nil {
		slog.Debug("no env file loaded, using environment variables", "files", files)
		return
	}
	slog.Debug("loaded env file (overwriting existing env vars)", "files", files)
}
