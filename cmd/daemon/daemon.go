// Package daemon is the `avream daemon` subcommand: it runs the service in
// the foreground until interrupted.
package daemon

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/avream/avreamd/cmd/cliopts"
	"github.com/avream/avreamd/internal/conf"
	"github.com/avream/avreamd/internal/daemon"
	"github.com/avream/avreamd/internal/logging"
)

// Command creates the daemon subcommand.
func Command(opts *cliopts.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the avream daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths := conf.ResolvePaths(opts.Socket)
			settings, err := conf.Load(paths.ConfigDir)
			if err != nil {
				return err
			}
			if settings.Main.LogToFile {
				logFile := filepath.Join(paths.LogDir, conf.DaemonName+".log")
				closeLog, err := logging.InitWithFile(settings.Main.LogLevel, logFile, settings.Main.LogMaxSize)
				if err != nil {
					return err
				}
				defer func() { _ = closeLog() }()
			} else {
				logging.Init(settings.Main.LogLevel)
			}

			d, err := daemon.New(settings, opts.Socket)
			if err != nil {
				return err
			}
			return d.Run(cmd.Context())
		},
	}
}
