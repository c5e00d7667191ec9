// Package app is the osslup command surface. Commands stay thin: they load
// configuration, open the audit store, and hand off to the engine packages.
package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// RootCmd is the root command for osslup.
	RootCmd = &cobra.Command{
		Use:   "osslup",
		Short: "Cross-platform OpenSSL upgrade orchestration",
		Long: `osslup upgrades the system OpenSSL installation safely.

It detects the platform and its package managers, checks the target version
against a vulnerability feed, snapshots the files it may touch, then either
upgrades through the native package manager (exact-version match only) or
builds the target from source into a version-namespaced prefix. Every
external command is logged before and after it runs, and a failed run always
ends with a rollback recommendation.

Examples:
  # Preview what an upgrade to 3.2.0 would run
  osslup upgrade --target-version 3.2.0 --dry-run

  # Upgrade, verifying the result against an internal endpoint
  osslup upgrade --target-version 3.2.0 --health-check internal.example.com:8443

  # Check the host before upgrading
  osslup doctor

  # Restore the files captured before a run
  osslup undo latest`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// exitError carries a specific process exit code out of a RunE.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.osslup/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintf(os.Stderr, "Error: %s\n", ee.msg)
			}
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
