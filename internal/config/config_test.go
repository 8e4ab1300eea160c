package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcpc-build/bcpc-build/pkg/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
data_dir: /srv/bcpc
store:
  driver: badger
build_home: /scratch/build
proxy:
  http: http://proxy.example.com:3128
kill_timeout: 10s
default_strategy: v7
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/bcpc", cfg.DataDir)
	assert.Equal(t, store.DriverBadger, cfg.Store.Driver)
	assert.Equal(t, "/srv/bcpc/badger", cfg.StorePath())
	assert.Equal(t, "/scratch/build", cfg.BuildHome)
	assert.Equal(t, 10*time.Second, cfg.KillTimeout)
	assert.Equal(t, "v7", cfg.DefaultStrategy)
	assert.Equal(t, "debug", cfg.Log.Level)
	// unset keys keep their defaults
	assert.Equal(t, "/bin/bash", cfg.UserShell)
	assert.Equal(t, "text", cfg.Log.Format)

	alloc := cfg.Allocator()
	assert.Equal(t, "http://proxy.example.com:3128", alloc.HTTPProxy)
	assert.Equal(t, "/srv/bcpc/logs", alloc.LogDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: badger\n")
	t.Setenv("BCPC_BUILD_STORE_DRIVER", "sqlite")
	t.Setenv("BCPC_BUILD_CERTS_DIR", "/etc/ssl/corp")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, store.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/etc/ssl/corp", cfg.CertsDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "bcpc-build.sqlite"), cfg.StorePath())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_DefaultLocation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().BuildHome, cfg.BuildHome)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"driver":       func(c *Config) { c.Store.Driver = "postgres" },
		"strategy":     func(c *Config) { c.DefaultStrategy = "v6" },
		"level":        func(c *Config) { c.Log.Level = "chatty" },
		"relative":     func(c *Config) { c.BuildHome = "build" },
		"kill timeout": func(c *Config) { c.KillTimeout = 0 },
	}
	require.NoError(t, Default().Validate())
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
