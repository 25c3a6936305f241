// Package cmd provides the command-line interface for the TLB simulator.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tlbsim",
	Short: "tlbsim simulates a two-level TLB hierarchy over an access trace.",
	Long: `tlbsim replays a trace of memory accesses and invalidations through a ` +
		`two-level, inclusive TLB hierarchy and reports hit, miss, and ` +
		`write-back statistics.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
