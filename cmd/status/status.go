// Package status is the `avream status` subcommand.
package status

import (
	"github.com/spf13/cobra"

	"github.com/avream/avreamd/cmd/cliopts"
)

// Command creates the status subcommand.
func Command(opts *cliopts.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, subsystem and session status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.Client().Status(cmd.Context())
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
}
