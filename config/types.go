package config

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

//go:generate go run ../tools/schema-generator/

// Default values applied by SetDefaults.
const (
	DefaultVersion      = "1.0"
	DefaultAddress      = "ws://localhost:9000/ws"
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadLimit    = 16 << 20
	DefaultMaxChannels  = 1024
	DefaultPrimaryKey   = "id"
	DefaultTableUpdate  = "upsert"
)

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// MarshalText writes the duration as a string for JSON encoders.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// JSONSchema describes Duration as a duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^(0|([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+)$`,
		Description: "Go duration string, e.g. 500ms, 10s, 1m30s",
	}
}

// ServerConfig describes how to reach the query server.
type ServerConfig struct {
	Address      string   `yaml:"address,omitempty" json:"address,omitempty" toml:"address,omitempty" jsonschema:"description=WebSocket URL of the query server (ws:// or wss://)" jsonschema_extras:"x-important=true"`
	DialTimeout  Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty" toml:"dial_timeout,omitempty" jsonschema:"description=Maximum time to establish the connection"`
	WriteTimeout Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty" toml:"write_timeout,omitempty" jsonschema:"description=Deadline for writing one statement"`
	PingInterval Duration `yaml:"ping_interval,omitempty" json:"ping_interval,omitempty" toml:"ping_interval,omitempty" jsonschema:"description=Interval between keepalive pings (0 disables pings)"`
	PongWait     Duration `yaml:"pong_wait,omitempty" json:"pong_wait,omitempty" toml:"pong_wait,omitempty" jsonschema:"description=How long to wait for any frame or pong before the connection is considered dead (0 disables)"`
	ReadLimit    int64    `yaml:"read_limit,omitempty" json:"read_limit,omitempty" toml:"read_limit,omitempty" jsonschema:"description=Maximum size in bytes of one inbound frame,minimum=0"`
}

// ChannelsConfig bounds client-side channel bookkeeping.
type ChannelsConfig struct {
	MaxOpen int `yaml:"max_open,omitempty" json:"max_open,omitempty" toml:"max_open,omitempty" jsonschema:"description=Maximum number of open channels per connection; the oldest is closed when exceeded,minimum=0"`
}

// TreeConfig controls how updates are applied to result trees.
type TreeConfig struct {
	PrimaryKey  string `yaml:"primary_key,omitempty" json:"primary_key,omitempty" toml:"primary_key,omitempty" jsonschema:"description=Record field that path ids are matched against (default: id)"`
	TableUpdate string `yaml:"table_update,omitempty" json:"table_update,omitempty" toml:"table_update,omitempty" jsonschema:"description=How a table update treats a record whose key already exists,enum=upsert,enum=append"`
}

// Config represents the livequery.yml configuration
type Config struct {
	Version  string         `yaml:"version" json:"version" toml:"version" jsonschema:"description=Configuration version (e.g. 1.0)"`
	Server   ServerConfig   `yaml:"server,omitempty" json:"server,omitempty" toml:"server,omitempty" jsonschema:"description=Query server connection settings"`
	Channels ChannelsConfig `yaml:"channels,omitempty" json:"channels,omitempty" toml:"channels,omitempty" jsonschema:"description=Channel bookkeeping limits"`
	Tree     TreeConfig     `yaml:"tree,omitempty" json:"tree,omitempty" toml:"tree,omitempty" jsonschema:"description=Result tree update behavior"`

	// Extensions holds sections owned by other packages, such as logging.
	Extensions map[string]interface{} `yaml:",inline" json:"extensions,omitempty" toml:"-" jsonschema:"-"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.DialTimeout == 0 {
		c.Server.DialTimeout = Duration(DefaultDialTimeout)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Channels.MaxOpen == 0 {
		c.Channels.MaxOpen = DefaultMaxChannels
	}
	if c.Tree.PrimaryKey == "" {
		c.Tree.PrimaryKey = DefaultPrimaryKey
	}
	if c.Tree.TableUpdate == "" {
		c.Tree.TableUpdate = DefaultTableUpdate
	}
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded livequery.yml into the provided target struct. The target must be a
// pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// It's not an error if the key doesn't exist.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}

// ConfigSource identifies the origin of a configuration value.
type ConfigSource string

const (
	SourceDefault  ConfigSource = "default"
	SourceGlobal   ConfigSource = "global"
	SourceProject  ConfigSource = "project"
	SourceOverride ConfigSource = "override"
)
