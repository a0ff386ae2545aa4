package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/avream/avreamd/cmd/android"
	"github.com/avream/avreamd/cmd/audio"
	"github.com/avream/avreamd/cmd/cliopts"
	"github.com/avream/avreamd/cmd/daemon"
	"github.com/avream/avreamd/cmd/status"
	"github.com/avream/avreamd/cmd/video"
	"github.com/avream/avreamd/internal/buildinfo"
)

// RootCommand creates and returns the root command.
func RootCommand() *cobra.Command {
	opts := &cliopts.Options{}

	rootCmd := &cobra.Command{
		Use:           "avream",
		Short:         "Turn an Android phone into a virtual webcam and microphone",
		Version:       buildinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&opts.Socket, "socket", "",
		"Control socket path (default: $XDG_RUNTIME_DIR/avream/daemon.sock)")
	rootCmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second,
		"Request timeout for daemon calls")

	rootCmd.AddCommand(
		daemon.Command(opts),
		status.Command(opts),
		video.Command(opts),
		audio.Command(opts),
		android.Command(opts),
	)
	return rootCmd
}
