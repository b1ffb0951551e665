// Package main is the entry point for the rewind daemon and its client
// commands.
//
// Usage:
//
//	rewind                - Start the capture daemon
//	rewind daemon         - Start the capture daemon
//	rewind save sink      - Save the last seconds of what you heard
//	rewind save source    - Save the last seconds of your microphone
//	rewind list           - Show saved recordings
//	rewind stats          - Show recording statistics
//	rewind devices        - Show audio tools, default devices and live channels
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Save the last minute of audio you just heard or said",
	Long: `rewind keeps a rolling window of your default audio output and input
in memory. Send SIGUSR1 (output) or SIGUSR2 (input) to the daemon, or run
'rewind save', to write that window to a file.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Aliases: []string{"d"},
	Short:   "Start the capture daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rewind v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/rewind/config.yaml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
