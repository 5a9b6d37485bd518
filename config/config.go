package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/pkg/paths"
	"github.com/grovetools/livequery/schema"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// configNames lists project file names in search order.
var configNames = []string{
	"livequery.yml",
	"livequery.yaml",
	".livequery.yml",
	".livequery.yaml",
	"livequery.toml",
}

var overrideNames = []string{
	"livequery.override.yml",
	"livequery.override.yaml",
	".livequery.override.yml",
	".livequery.override.yaml",
}

// Load reads and parses a single configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	cfg, err := parse(data, isTOML(path))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse config file").
			WithDetail("path", path)
	}
	return finalize(cfg)
}

// LoadDefault finds and loads the configuration with hierarchical merging:
// 1. Global config (~/.config/livequery/livequery.yml) - base layer
// 2. Project config (livequery.yml) - overrides global
// 3. Local override (livequery.override.yml) - overrides all
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to get current directory")
	}

	return LoadFrom(cwd)
}

// LoadFrom loads configuration with hierarchical merging starting from the given directory
func LoadFrom(startDir string) (*Config, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return LoadFromWithLogger(startDir, logger)
}

// LoadFromWithLogger loads configuration with hierarchical merging and logging
func LoadFromWithLogger(startDir string, logger *logrus.Logger) (*Config, error) {
	layered, err := loadLayers(startDir, logger)
	if err != nil {
		return nil, err
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		if data, err := yaml.Marshal(layered.Final); err == nil {
			logger.Debugf("Merged configuration:\n%s", string(data))
		}
	}
	return layered.Final, nil
}

// LoadFromBytes parses YAML configuration from byte array
func LoadFromBytes(data []byte) (*Config, error) {
	cfg, err := parse(data, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
	}
	return finalize(cfg)
}

// LoadTOMLFromBytes parses TOML configuration from byte array
func LoadTOMLFromBytes(data []byte) (*Config, error) {
	cfg, err := parse(data, true)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
	}
	return finalize(cfg)
}

// LoadLayered finds and loads all configuration layers (global, project,
// overrides) and the merged result, for inspection.
func LoadLayered(startDir string) (*LayeredConfig, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return loadLayers(startDir, logger)
}

func loadLayers(startDir string, logger *logrus.Logger) (*LayeredConfig, error) {
	layered := &LayeredConfig{
		Default:   Default(),
		FilePaths: make(map[ConfigSource]string),
	}

	projectPath, err := FindConfigFile(startDir)
	if err != nil {
		return nil, err
	}

	// 1. Global config, unless the project file is the global file itself
	globalPath := getXDGConfigPath()
	if globalPath != "" && globalPath != projectPath {
		if _, err := os.Stat(globalPath); err == nil {
			logger.WithField("path", globalPath).Debug("Loading global configuration")
			if cfg, err := readLayer(globalPath); err == nil {
				layered.Global = cfg
				layered.FilePaths[SourceGlobal] = globalPath
			} else {
				logger.WithError(err).Warn("Failed to load global configuration, continuing without it")
			}
		}
	}

	// 2. Project config (required)
	logger.WithField("path", projectPath).Debug("Loading project configuration")
	project, err := readLayer(projectPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to load project config").
			WithDetail("path", projectPath)
	}
	layered.Project = project
	layered.FilePaths[SourceProject] = projectPath

	// 3. Local overrides (optional)
	projectDir := filepath.Dir(projectPath)
	for _, name := range overrideNames {
		overridePath := filepath.Join(projectDir, name)
		if _, err := os.Stat(overridePath); err != nil {
			continue
		}
		logger.WithField("path", overridePath).Debug("Loading local override configuration")
		cfg, err := readLayer(overridePath)
		if err != nil {
			logger.WithError(err).Warn("Failed to load override file, skipping")
			continue
		}
		layered.Overrides = append(layered.Overrides, OverrideSource{Path: overridePath, Config: cfg})
	}

	final := &Config{}
	if layered.Global != nil {
		final = mergeConfigs(final, layered.Global)
	}
	final = mergeConfigs(final, layered.Project)
	for _, o := range layered.Overrides {
		final = mergeConfigs(final, o.Config)
	}

	final, err = finalize(final)
	if err != nil {
		return nil, err
	}
	layered.Final = final
	logger.Debug("Configuration loaded and validated successfully")
	return layered, nil
}

// readLayer reads one file without defaults or semantic validation.
func readLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data, isTOML(path))
}

// parse expands environment variables, validates the raw document against
// the embedded schema and decodes it.
func parse(data []byte, asTOML bool) (*Config, error) {
	expanded := []byte(expandEnvVars(string(data)))

	var doc map[string]interface{}
	if asTOML {
		if err := toml.Unmarshal(expanded, &doc); err != nil {
			return nil, err
		}
		// Re-encode as YAML so both formats share one decoding path.
		yamlData, err := yaml.Marshal(doc)
		if err != nil {
			return nil, err
		}
		expanded = yamlData
	} else if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return nil, err
	}

	if len(doc) > 0 {
		validator, err := schema.NewValidator()
		if err != nil {
			return nil, err
		}
		if err := validator.Validate(doc); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func finalize(cfg *Config) (*Config, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// FindConfigFile searches for livequery configuration files with the following precedence:
// 1. Current directory up to filesystem root
// 2. XDG config directory (~/.config/livequery/livequery.yml)
func FindConfigFile(startDir string) (string, error) {
	dir := startDir
	for {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if xdgConfigPath := getXDGConfigPath(); xdgConfigPath != "" {
		if info, err := os.Stat(xdgConfigPath); err == nil && !info.IsDir() {
			return xdgConfigPath, nil
		}
	}

	return "", errors.ConfigNotFound(startDir).WithDetail("searchPath", startDir)
}

// expandEnvVars replaces ${VAR} with environment variable values
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		// Handle default values: ${VAR:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// getXDGConfigPath returns the global livequery.yml path
func getXDGConfigPath() string {
	dir := paths.ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "livequery.yml")
}

// GlobalConfigPath returns the path of the global configuration file.
func GlobalConfigPath() string {
	return getXDGConfigPath()
}

// ToJSON renders the configuration as indented JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
