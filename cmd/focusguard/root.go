package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version     = "dev"
	configPath  string
	controlAddr string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "focusguard",
	Short: "focusguard - focus sessions with app and website restrictions",
	Long: `focusguard runs timed focus sessions. While a session is active the
selected websites are sinkholed by the embedded DNS server and the selected
applications are published to host agents over Redis. Breaks and a rate
limited emergency pass lift restrictions temporarily.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to serve command when no subcommand is provided
		return runServer(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/focusguard/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&controlAddr, "addr", "", "Control API address (defaults to server.bind_address:server.control_port)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
