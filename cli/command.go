package cli

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/grovetools/livequery/config"
	"github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/logging"
)

// CommandOptions holds the flags shared by every livequery command.
type CommandOptions struct {
	ConfigFile string
	Address    string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand creates a new command with the standard livequery flags.
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to livequery.yml config file")
	cmd.PersistentFlags().StringP("address", "a", "", "Server URL (overrides server.address)")

	SetStyledHelp(cmd)

	return cmd
}

// GetLogger returns the CLI component logger adjusted for the command flags.
func GetLogger(cmd *cobra.Command) *logrus.Entry {
	entry := logging.NewLogger("livequery-cli")

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		entry.Logger.SetLevel(logrus.DebugLevel)
		entry.Logger.SetOutput(cmd.ErrOrStderr())
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		entry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return entry
}

// GetOptions extracts common options from a command
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	address, _ := cmd.Flags().GetString("address")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return CommandOptions{
		ConfigFile: configFile,
		Address:    address,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// InitConfig resolves the config file path: the flag if set, otherwise the
// nearest livequery.yml. An empty path means no file was found.
func InitConfig(configFile string) (string, error) {
	if configFile != "" {
		return configFile, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	found, err := config.FindConfigFile(cwd)
	if err != nil {
		// No config file found, that's okay: defaults apply
		return "", nil
	}
	return found, nil
}

// LoadConfig loads the configuration for a command: an explicit --config
// file alone, or the layered global, project and override files, or the
// defaults when no file exists. The --address flag wins over the file.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	opts := GetOptions(cmd)

	var cfg *config.Config
	var err error
	if opts.ConfigFile != "" {
		cfg, err = config.Load(opts.ConfigFile)
	} else {
		var cwd string
		if cwd, err = os.Getwd(); err == nil {
			cfg, err = config.LoadFrom(cwd)
		}
		if errors.Is(err, errors.ErrCodeConfigNotFound) {
			// No livequery.yml anywhere: run on defaults
			cfg, err = config.Default(), nil
		}
	}
	if err != nil {
		return nil, err
	}

	if opts.Address != "" {
		cfg.Server.Address = opts.Address
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
