// Package android holds the `avream android` subcommands: device discovery
// and adb-over-Wi-Fi management.
package android

import (
	"github.com/spf13/cobra"

	"github.com/avream/avreamd/cmd/cliopts"
)

// Command creates the android command tree.
func Command(opts *cliopts.Options) *cobra.Command {
	androidCmd := &cobra.Command{
		Use:   "android",
		Short: "Manage Android devices and adb-over-Wi-Fi",
	}
	androidCmd.AddCommand(
		devicesCommand(opts),
		wifiCommand(opts),
	)
	return androidCmd
}

func devicesCommand(opts *cliopts.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List connected devices grouped by physical phone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.Client().AndroidDevices(cmd.Context())
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
}

func wifiCommand(opts *cliopts.Options) *cobra.Command {
	wifiCmd := &cobra.Command{
		Use:   "wifi",
		Short: "Manage adb-over-Wi-Fi connections",
	}

	var serial string
	var port int

	enableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Switch a USB-attached device's adbd into tcpip mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.Client().AndroidWifiEnable(cmd.Context(), serial, port)
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
	enableCmd.Flags().StringVar(&serial, "serial", "", "Device serial (required)")
	enableCmd.Flags().IntVar(&port, "port", 5555, "tcpip port")
	_ = enableCmd.MarkFlagRequired("serial")

	var setupSerial string
	var setupPort int
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Enable tcpip mode, detect the device IP and connect wirelessly",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.Client().AndroidWifiSetup(cmd.Context(), setupSerial, setupPort)
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}
	setupCmd.Flags().StringVar(&setupSerial, "serial", "", "Device serial (default: the only USB device)")
	setupCmd.Flags().IntVar(&setupPort, "port", 5555, "tcpip port")

	connectCmd := &cobra.Command{
		Use:   "connect <host[:port]>",
		Short: "Connect to a wireless adb endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.Client().AndroidWifiConnect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect <host[:port]>",
		Short: "Disconnect a wireless adb endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.Client().AndroidWifiDisconnect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cliopts.PrintData(cmd.OutOrStdout(), data)
		},
	}

	wifiCmd.AddCommand(enableCmd, setupCmd, connectCmd, disconnectCmd)
	return wifiCmd
}
