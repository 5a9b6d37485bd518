package config

// OverrideSource is one local override file and its parsed content.
type OverrideSource struct {
	Path   string
	Config *Config
}

// LayeredConfig holds every configuration layer separately along with the
// merged result.
type LayeredConfig struct {
	Default   *Config
	Global    *Config
	Project   *Config
	Overrides []OverrideSource
	Final     *Config
	FilePaths map[ConfigSource]string
}

// mergeConfigs merges override configuration into base. Zero values in
// override leave base untouched.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.Version != "" {
		result.Version = override.Version
	}

	// Merge server
	if override.Server.Address != "" {
		result.Server.Address = override.Server.Address
	}
	if override.Server.DialTimeout != 0 {
		result.Server.DialTimeout = override.Server.DialTimeout
	}
	if override.Server.WriteTimeout != 0 {
		result.Server.WriteTimeout = override.Server.WriteTimeout
	}
	if override.Server.PingInterval != 0 {
		result.Server.PingInterval = override.Server.PingInterval
	}
	if override.Server.PongWait != 0 {
		result.Server.PongWait = override.Server.PongWait
	}
	if override.Server.ReadLimit != 0 {
		result.Server.ReadLimit = override.Server.ReadLimit
	}

	// Merge channels
	if override.Channels.MaxOpen != 0 {
		result.Channels.MaxOpen = override.Channels.MaxOpen
	}

	// Merge tree
	if override.Tree.PrimaryKey != "" {
		result.Tree.PrimaryKey = override.Tree.PrimaryKey
	}
	if override.Tree.TableUpdate != "" {
		result.Tree.TableUpdate = override.Tree.TableUpdate
	}

	// Merge extensions one level deep so an override can change a single
	// key of a section.
	if len(override.Extensions) > 0 {
		merged := make(map[string]interface{}, len(base.Extensions)+len(override.Extensions))
		for k, v := range base.Extensions {
			merged[k] = v
		}
		for k, v := range override.Extensions {
			baseSection, baseOK := merged[k].(map[string]interface{})
			overSection, overOK := v.(map[string]interface{})
			if baseOK && overOK {
				section := make(map[string]interface{}, len(baseSection)+len(overSection))
				for sk, sv := range baseSection {
					section[sk] = sv
				}
				for sk, sv := range overSection {
					section[sk] = sv
				}
				merged[k] = section
				continue
			}
			merged[k] = v
		}
		result.Extensions = merged
	}

	return &result
}
