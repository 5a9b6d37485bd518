// Package cmd holds the livequery commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/grovetools/livequery/cli"
	"github.com/grovetools/livequery/version"
)

// NewRootCmd assembles the livequery command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := cli.NewStandardCommand(
		"livequery",
		"Client for live query servers: run statements and follow live result trees",
	)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	info := version.GetInfo()
	cli.SetVersionTemplate(rootCmd, info)

	rootCmd.AddCommand(
		NewQueryCmd(),
		NewExecCmd(),
		NewWatchCmd(),
		NewShellCmd(),
		NewMockServerCmd(),
		NewConfigCmd(),
		NewPathsCmd(),
		cli.NewVersionCommand("livequery", info),
	)
	return rootCmd
}
