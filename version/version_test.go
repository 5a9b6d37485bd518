package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Contains(t, info.String(), "Commit:    "+Commit)
	assert.Equal(t, "livequery/dev ("+info.Platform+")", Info{Version: "dev", Platform: info.Platform}.UserAgent())
}
