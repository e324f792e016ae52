// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ustack",
	Short: "ustack - a user-space network stack core",
	Long: `ustack runs a small user-space network stack: a device registry,
a protocol dispatcher fed by a soft interrupt, and an ARP handler that
answers requests for the addresses it owns.

Devices are configured as loopback, an in-process pipe link, or an
AF_PACKET socket bound to a host interface.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/ustack/config.yml",
		"config file path")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateCmd)
}
