package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeConfigs(t *testing.T) {
	base := &Config{
		Version: "1.0",
		Server: ServerConfig{
			Address:     "ws://base:1/ws",
			DialTimeout: Duration(time.Second),
			ReadLimit:   10,
		},
		Channels: ChannelsConfig{MaxOpen: 4},
		Extensions: map[string]interface{}{
			"logging": map[string]interface{}{"level": "info", "report_caller": true},
			"other":   "keep",
		},
	}
	override := &Config{
		Server: ServerConfig{
			PingInterval: Duration(5 * time.Second),
			ReadLimit:    20,
		},
		Tree: TreeConfig{TableUpdate: "append"},
		Extensions: map[string]interface{}{
			"logging": map[string]interface{}{"level": "debug"},
		},
	}

	merged := mergeConfigs(base, override)

	assert.Equal(t, "1.0", merged.Version)
	assert.Equal(t, "ws://base:1/ws", merged.Server.Address)
	assert.Equal(t, Duration(time.Second), merged.Server.DialTimeout)
	assert.Equal(t, Duration(5*time.Second), merged.Server.PingInterval)
	assert.Equal(t, int64(20), merged.Server.ReadLimit)
	assert.Equal(t, 4, merged.Channels.MaxOpen)
	assert.Equal(t, "append", merged.Tree.TableUpdate)
	assert.Equal(t, "keep", merged.Extensions["other"])
	assert.Equal(t, map[string]interface{}{"level": "debug", "report_caller": true}, merged.Extensions["logging"])

	// inputs are untouched
	assert.Equal(t, int64(10), base.Server.ReadLimit)
	assert.Equal(t, "info", base.Extensions["logging"].(map[string]interface{})["level"])
}

func TestMergeEmptyOverride(t *testing.T) {
	base := Default()
	merged := mergeConfigs(base, &Config{})
	assert.Equal(t, base, merged)
	assert.NotSame(t, base, merged)
}
