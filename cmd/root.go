// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "packetlens",
	Short: "Packetlens - protocol packet inspection dashboard backend",
	Long: `Packetlens is the backend for a browser-based protocol packet dashboard.
It ingests packet records from a capture server (live SSE stream, capture-file
replay) or from JSON exports, decodes opaque binary payloads against a
user-supplied protobuf schema, expands multiplexed envelope packets, and
serves the normalized stream to the dashboard UI.

Features:
  - Swappable schema registry with command-id mapping and live re-decode
  - Soft-fail decoding: undecodable packets degrade, never drop
  - Recursive envelope unwrapping with stable sequence ordering
  - Batch import, live streaming, and server-side capture replay`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (built-in defaults when omitted)")
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
