package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maplive/engine/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}
	Redis struct {
		Prefix string
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 9000\n"), 0o600))

	var c testConfig
	c.HTTP.Port = 8080
	c.Redis.Prefix = "engine"

	require.NoError(t, config.Load(path, &c))
	assert.Equal(t, int32(9000), c.HTTP.Port)
	assert.Equal(t, "engine", c.Redis.Prefix, "untouched keys keep their defaults")
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	var c testConfig
	c.HTTP.Port = 8080

	require.NoError(t, config.Load(filepath.Join(t.TempDir(), "absent.yaml"), &c))
	assert.Equal(t, int32(8080), c.HTTP.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  prefix: filevalue\n"), 0o600))

	t.Setenv("REDIS_PREFIX", "envvalue")

	var c testConfig
	require.NoError(t, config.Load(path, &c))
	assert.Equal(t, "envvalue", c.Redis.Prefix)
}
