package repo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	require.Nil(t, err)

	assert.Equal(t, "wazero", cfg.Backend.Type)
	assert.Equal(t, 256, cfg.Cache.Size)
	assert.Equal(t, uint32(1), cfg.Schedule.Version)
	assert.Nil(t, cfg.Schedule.Validate())
}

func TestInitializeAndLoad(t *testing.T) {
	root := t.TempDir()
	require.Nil(t, Initialize(root))
	assert.True(t, Initialized(root))

	r, err := Load(root, "")
	require.Nil(t, err)
	assert.Equal(t, root, r.Config.RepoRoot)
	assert.Equal(t, "wazero", r.Config.Backend.Type)
	assert.Equal(t, 10*time.Second, r.Config.Cache.CompileTimeout)
	assert.Nil(t, r.Config.Schedule.Validate())
}

func TestUnmarshalConfigOverrides(t *testing.T) {
	root := t.TempDir()
	content := `title = "test"

[backend]
type = "wasmtime"

[cache]
size = 16
compile_timeout = "2s"

[log]
level = "debug"

[schedule]
version = 3
max_memory_pages = 64
max_stack_depth = 128
`
	require.Nil(t, os.WriteFile(filepath.Join(root, configName), []byte(content), 0644))

	cfg, err := UnmarshalConfig(viper.New(), root, "")
	require.Nil(t, err)

	assert.Equal(t, "wasmtime", cfg.Backend.Type)
	assert.Equal(t, 16, cfg.Cache.Size)
	assert.Equal(t, 2*time.Second, cfg.Cache.CompileTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, uint32(3), cfg.Schedule.Version)
	assert.Equal(t, uint32(64), cfg.Schedule.MaxMemoryPages)
	// untouched schedule entries keep their defaults
	assert.Equal(t, uint64(100), cfg.Schedule.BaseFee)
}

func TestUnmarshalConfigRejectsBadSchedule(t *testing.T) {
	root := t.TempDir()
	content := `[schedule]
max_memory_pages = 0
`
	require.Nil(t, os.WriteFile(filepath.Join(root, configName), []byte(content), 0644))

	_, err := UnmarshalConfig(viper.New(), root, "")
	require.NotNil(t, err)
}
