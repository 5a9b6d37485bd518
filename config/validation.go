package config

import (
	"fmt"
	"net/url"

	"github.com/grovetools/livequery/errors"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateServer(&c.Server); err != nil {
		return err
	}

	if c.Channels.MaxOpen < 0 {
		return errors.ConfigInvalid("channels.max_open cannot be negative").
			WithDetail("max_open", c.Channels.MaxOpen)
	}

	if c.Tree.PrimaryKey == "" {
		return errors.ConfigInvalid("tree.primary_key cannot be empty")
	}
	switch c.Tree.TableUpdate {
	case "upsert", "append":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("tree.table_update must be 'upsert' or 'append', got '%s'", c.Tree.TableUpdate)).
			WithDetail("table_update", c.Tree.TableUpdate)
	}

	return nil
}

func validateServer(s *ServerConfig) error {
	u, err := url.Parse(s.Address)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "server.address is not a valid URL").
			WithDetail("address", s.Address)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.ConfigInvalid(fmt.Sprintf("server.address must use ws:// or wss://, got '%s'", s.Address)).
			WithDetail("address", s.Address)
	}
	if u.Host == "" {
		return errors.ConfigInvalid("server.address has no host").
			WithDetail("address", s.Address)
	}

	for name, d := range map[string]Duration{
		"server.dial_timeout":  s.DialTimeout,
		"server.write_timeout": s.WriteTimeout,
		"server.ping_interval": s.PingInterval,
		"server.pong_wait":     s.PongWait,
	} {
		if d < 0 {
			return errors.ConfigInvalid(fmt.Sprintf("%s cannot be negative", name))
		}
	}

	if s.PongWait > 0 {
		if s.PingInterval == 0 {
			return errors.ConfigInvalid("server.pong_wait requires server.ping_interval")
		}
		if s.PongWait <= s.PingInterval {
			return errors.ConfigInvalid(fmt.Sprintf("server.pong_wait (%s) must be longer than server.ping_interval (%s)", s.PongWait, s.PingInterval))
		}
	}

	if s.ReadLimit < 0 {
		return errors.ConfigInvalid("server.read_limit cannot be negative")
	}
	return nil
}
