package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/livequery/config"
	"github.com/grovetools/livequery/pkg/paths"
)

// PathsOutput lists the files and directories livequery reads and writes.
type PathsOutput struct {
	ConfigDir    string `json:"config_dir"`
	GlobalConfig string `json:"global_config"`
	StateDir     string `json:"state_dir"`
	LogDir       string `json:"log_dir"`
	History      string `json:"history"`
}

// NewPathsCmd creates the `paths` command.
func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used by livequery",
		Long: `Print the paths used by livequery as JSON.

LIVEQUERY_HOME moves every path under one directory; otherwise the XDG
config and state directories are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := PathsOutput{
				ConfigDir:    paths.ConfigDir(),
				GlobalConfig: config.GlobalConfigPath(),
				StateDir:     paths.StateDir(),
				LogDir:       paths.LogDir(),
				History:      paths.HistoryPath(),
			}

			jsonData, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal paths to JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
			return nil
		},
	}
}
