// Package cli implements the atlas command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "atlas — BMS control engine",
	Long: `atlas evaluates HVAC control algorithms against live telemetry and
writes equipment commands to the time-series store.

Run 'atlas serve' to start the engine, or point the status commands at a
running instance.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://127.0.0.1:8733",
		"address of the atlas status API")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
