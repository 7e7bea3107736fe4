package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newDefinitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "definitions",
		Short: "Print the rule catalog as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			client, closeBridge, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer closeBridge()

			ctx := cmd.Context()
			if err := client.LoadRuntime(ctx, func(text string) {
				cmd.PrintErrln(text)
			}); err != nil {
				return explain(err)
			}

			defs, err := client.LoadErrorDefinitions(ctx)
			if err != nil {
				return explain(err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(defs)
		},
	}
}
