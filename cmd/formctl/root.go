package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "formctl",
	Short: "Validate and preview form schemas with conditional logic",
	Long: `formctl loads a form schema from a YAML or JSON file and runs the same
rules engine the server uses, without a database or Redis.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if outputFormat != "text" && outputFormat != "json" {
			return fmt.Errorf("unknown output format %q (use text or json)", outputFormat)
		}
		return configureLogging(logLevel)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "ERROR", "log level for engine diagnostics")
}
