package main

import (
	"os"

	"github.com/grovetools/livequery/cli"
	"github.com/grovetools/livequery/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		cli.NewErrorHandler(verbose).Handle(err)
		os.Exit(1)
	}
}
