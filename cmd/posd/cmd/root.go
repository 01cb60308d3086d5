// Package cmd implements the posd CLI (spec.md §6.5): a single
// -c/--config flag selecting the configuration file, grounded on the
// teacher's cobra-based cmd/choo/main.go + internal/cli split.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// SetVersion records build-time version info (set via ldflags), matching
// the teacher's cmd/choo/main.go convention.
func SetVersion(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:           "posd",
	Short:         "Proof-of-Space data generation service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	rootCmd.AddCommand(runCmd, versionCmd)
}

// Execute runs the CLI; returns a non-zero-worthy error on startup failure
// (spec.md §6.5 exit-code contract is enforced by cmd/posd/main.go).
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "posd %s (commit %s, built %s)\n", version, commit, date)
		return nil
	},
}
