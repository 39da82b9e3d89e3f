package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/high-horse/fingerprint-server/internal/fingerprint"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.Capture.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Capture.StopTimeout)
	assert.Equal(t, 3*time.Second, cfg.Capture.ReleaseTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "frames", cfg.Reader.FramesDir)
	assert.Empty(t, cfg.DevicesFile)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("FPS_SERVER_ADDR", ":9999")
	t.Setenv("FPS_CAPTURE_TIMEOUT", "5s")
	t.Setenv("FPS_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Capture.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "fingerprintd.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  addr: \":7000\"\nreader:\n  exposure: 250ms\n"), 0o644))
	t.Setenv(ConfigFileEnv, file)
	t.Setenv("FPS_SERVER_ADDR", ":7001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.Server.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Reader.Exposure)
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"empty addr":       {func(c *Config) { c.Server.Addr = " " }, "invalid server.addr"},
		"zero timeout":     {func(c *Config) { c.Capture.Timeout = 0 }, "invalid capture.timeout"},
		"bad level":        {func(c *Config) { c.Log.Level = "loud" }, "invalid log.level"},
		"negative workers": {func(c *Config) { c.MatcherWorkers = -1 }, "invalid matcher_workers"},
		"file without age": {func(c *Config) { c.Log = LogConfig{Level: "info", File: "x.log"} }, "invalid log.max_age"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadCatalogBuiltIn(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())
}

func TestLoadCatalogFile(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join("..", "..", "configs", "devices.toml"))
	require.NoError(t, err)

	builtIn := fingerprint.DefaultProfiles()
	for _, want := range builtIn {
		got, ok := catalog.Lookup(want.ID)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestLoadCatalogRejectsTypos(t *testing.T) {
	file := filepath.Join(t.TempDir(), "devices.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
[[device]]
id = 3
name = "LAB"
family = "hamster"
[device.policy]
kind = "margin"
base_threshold = 50.0
margn = 10.0
`), 0o644))

	_, err := LoadCatalog(file)
	assert.ErrorContains(t, err, "unknown keys")
}

func TestLoadCatalogEmpty(t *testing.T) {
	file := filepath.Join(t.TempDir(), "devices.toml")
	require.NoError(t, os.WriteFile(file, []byte("# nothing\n"), 0o644))

	_, err := LoadCatalog(file)
	assert.ErrorContains(t, err, "no [[device]]")
}
