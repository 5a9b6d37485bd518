package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/livequery/version"
)

// SetVersionTemplate sets the --version output of cmd.
func SetVersionTemplate(cmd *cobra.Command, info version.Info) {
	cmd.Version = info.Version
	cmd.SetVersionTemplate(fmt.Sprintf(`{{.Name}} {{.Version}}
  Commit:    %s
  Built:     %s
  Platform:  %s
`, info.Commit, info.BuildDate, info.Platform))
}

// NewVersionCommand creates a standard version command
func NewVersionCommand(componentName string, info version.Info) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: fmt.Sprintf("Print the version number of %s", componentName),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if opts := GetOptions(cmd); opts.JSONOutput {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			fmt.Fprintf(out, "%s %s\n", componentName, info.Version)
			fmt.Fprintln(out, info.String())
			return nil
		},
	}
}
