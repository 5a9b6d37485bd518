package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/grovetools/livequery/cli"
	"github.com/grovetools/livequery/config"
)

// NewConfigCmd creates the `config` command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the livequery configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigSchemaCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Prints the configuration after merging the global file, the project file
and any override files, with defaults applied. With --layers every layer is
printed separately, which helps when a value does not come from where you
expect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			layers, _ := cmd.Flags().GetBool("layers")
			if !layers {
				cfg, err := cli.LoadConfig(cmd)
				if err != nil {
					return err
				}
				if cli.GetOptions(cmd).JSONOutput {
					data, err := cfg.ToJSON()
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
					return nil
				}
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Fprint(out, string(data))
				return nil
			}

			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get current directory: %w", err)
			}
			layered, err := config.LoadLayered(cwd)
			if err != nil {
				return err
			}

			printLayer := func(title string, path string, cfg *config.Config) {
				if cfg == nil {
					return
				}
				fmt.Fprintf(out, "--- # %s\n", title)
				if path != "" {
					fmt.Fprintf(out, "# Source: %s\n", path)
				}
				data, _ := yaml.Marshal(cfg)
				fmt.Fprintln(out, string(data))
			}

			printLayer("DEFAULTS", "", layered.Default)
			printLayer("GLOBAL CONFIG", layered.FilePaths[config.SourceGlobal], layered.Global)
			printLayer("PROJECT CONFIG", layered.FilePaths[config.SourceProject], layered.Project)
			for _, override := range layered.Overrides {
				printLayer("OVERRIDE CONFIG", override.Path, override.Config)
			}
			printLayer("FINAL MERGED CONFIG", "", layered.Final)
			return nil
		},
	}
	cmd.Flags().Bool("layers", false, "Print each configuration layer separately")
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for livequery.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a configuration file against the schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				found, err := cli.InitConfig(cli.GetOptions(cmd).ConfigFile)
				if err != nil {
					return err
				}
				if found == "" {
					return fmt.Errorf("no livequery.yml found")
				}
				path = found
			}

			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
			return nil
		},
	}
}
