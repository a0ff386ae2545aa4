// Package audio holds the `avream audio` subcommands for the virtual
// microphone bridge.
package audio

import (
	"github.com/spf13/cobra"

	"github.com/avream/avreamd/cmd/cliopts"
)

// Command creates the audio command tree.
func Command(opts *cliopts.Options) *cobra.Command {
	audioCmd := &cobra.Command{
		Use:   "audio",
		Short: "Manage the virtual microphone bridge",
	}
	audioCmd.AddCommand(startCommand(opts), stopCommand(opts))
	return audioCmd
}

func startCommand(opts *cliopts.Options) *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the virtual microphone bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.Client().AudioStart(cmd.Context(), backend)
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "Audio backend: pipewire or snd_aloop (default: daemon config)")
	return cmd
}

func stopCommand(opts *cliopts.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the virtual microphone bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.Client().AudioStop(cmd.Context())
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
}
