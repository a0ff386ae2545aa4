// Package video holds the `avream video` subcommands: session start/stop,
// virtual camera reset, source listing and reconnect cancellation.
package video

import (
	"github.com/spf13/cobra"

	"github.com/avream/avreamd/cmd/cliopts"
	"github.com/avream/avreamd/internal/client"
)

// Command creates the video command tree.
func Command(opts *cliopts.Options) *cobra.Command {
	videoCmd := &cobra.Command{
		Use:   "video",
		Short: "Manage the virtual camera session",
	}
	videoCmd.AddCommand(
		startCommand(opts),
		stopCommand(opts),
		resetCommand(opts),
		sourcesCommand(opts),
		reconnectStopCommand(opts),
	)
	return videoCmd
}

func startCommand(opts *cliopts.Options) *cobra.Command {
	var (
		serial   string
		facing   string
		rotation int
		preview  bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start streaming an Android camera to the virtual webcam",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := client.VideoStartRequest{Serial: serial}
			if cmd.Flags().Changed("facing") {
				req.CameraFacing = &facing
			}
			if cmd.Flags().Changed("rotation") {
				req.CameraRotation = &rotation
			}
			if cmd.Flags().Changed("preview") {
				req.PreviewWindow = &preview
			}
			data, err := opts.Client().VideoStart(cmd.Context(), req)
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().StringVar(&serial, "serial", "", "Pin the session to a specific device serial")
	cmd.Flags().StringVar(&facing, "facing", "front", "Camera facing: front or back")
	cmd.Flags().IntVar(&rotation, "rotation", 0, "Camera rotation: 0, 90, 180 or 270")
	cmd.Flags().BoolVar(&preview, "preview", false, "Show the scrcpy preview window")
	return cmd
}

func stopCommand(opts *cliopts.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the virtual camera session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.Client().VideoStop(cmd.Context())
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
}

func resetCommand(opts *cliopts.Options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reload the virtual camera device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.Client().VideoReset(cmd.Context(), force)
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Reload even when applications hold the device open")
	return cmd
}

func sourcesCommand(opts *cliopts.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List adb-visible video sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.Client().VideoSources(cmd.Context())
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
}

func reconnectStopCommand(opts *cliopts.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect-stop",
		Short: "Cancel a pending reconnect without touching the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.Client().VideoStopReconnect(cmd.Context())
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
}
