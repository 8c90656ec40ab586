package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexpool/internal/errors"
)

// isolate points the user config at an empty directory so the developer's
// own ~/.config/indexpool does not leak into tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 2, cfg.Pool.MinWorkers)
	assert.Equal(t, 5, cfg.Pool.MaxWorkers)
	assert.Equal(t, 100, cfg.Pool.QueueCapacity)
	assert.Equal(t, "30s", cfg.Pool.KeepAlive)
	assert.Equal(t, "50ms", cfg.Pool.BackpressureInterval)
	assert.Equal(t, "0s", cfg.Pool.TaskTimeout)
	assert.Equal(t, 0, cfg.Pool.RecycleAfter)
	assert.True(t, cfg.Bulk.Enabled)
	assert.Equal(t, "sqlite", cfg.Backend.Kind)
	assert.Equal(t, 4096, cfg.Backend.FingerprintCacheSize)
	assert.Equal(t, 100, cfg.Backend.WriteBatch)
	assert.Equal(t, 5, cfg.Backend.CircuitMaxFailures)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFiles_UsesDefaults(t *testing.T) {
	// Given: an empty project directory and no user config
	isolate(t)
	dir := t.TempDir()

	// When: loading configuration
	cfg, err := Load(dir)

	// Then: defaults are returned
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Pool, cfg.Pool)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	// Given: a project config that resizes the pool and adds a repository
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".indexpool.yaml"), `
version: 1
pool:
  max_workers: 8
  task_timeout: 2s
backend:
  kind: bleve
  write_batch: 25
  repositories:
    docs: /srv/docs
`)

	// When: loading configuration
	cfg, err := Load(dir)

	// Then: file values win and untouched fields keep defaults
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pool.MaxWorkers)
	assert.Equal(t, 2, cfg.Pool.MinWorkers)
	assert.Equal(t, "2s", cfg.Pool.TaskTimeout)
	assert.Equal(t, "bleve", cfg.Backend.Kind)
	assert.Equal(t, 25, cfg.Backend.WriteBatch)
	assert.Equal(t, "/srv/docs", cfg.Backend.Repositories["docs"])
	assert.True(t, cfg.Bulk.Enabled)
}

func TestLoad_YmlFallback(t *testing.T) {
	// Given: only a .yml project file
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".indexpool.yml"), "pool:\n  queue_capacity: 7\n")

	// When: loading configuration
	cfg, err := Load(dir)

	// Then: it is picked up
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pool.QueueCapacity)
}

func TestLoad_LayeringPrecedence(t *testing.T) {
	// Given: user config, project config and env all set max_workers
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	writeFile(t, filepath.Join(xdg, "indexpool", "config.yaml"), `
pool:
  max_workers: 6
  min_workers: 3
log:
  level: debug
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".indexpool.yaml"), "pool:\n  max_workers: 7\n")
	t.Setenv("INDEXPOOL_MAX_WORKERS", "9")

	// When: loading configuration
	cfg, err := Load(dir)

	// Then: env beats project beats user, and user-only values survive
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Pool.MaxWorkers)
	assert.Equal(t, 3, cfg.Pool.MinWorkers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_FileCanDisableBooleans(t *testing.T) {
	// Given: a project file turning off the bulk lane and the watcher
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".indexpool.yaml"), "bulk:\n  enabled: false\nwatch:\n  enabled: false\n")

	// When: loading configuration
	cfg, err := Load(dir)

	// Then: both are disabled
	require.NoError(t, err)
	assert.False(t, cfg.Bulk.Enabled)
	assert.False(t, cfg.Watch.Enabled)
}

func TestLoad_OmittedBooleansKeepDefaults(t *testing.T) {
	// Given: a project file that does not mention bulk or watch
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".indexpool.yaml"), "metrics:\n  listen: ''\nlog:\n  format: text\n")

	// When: loading configuration
	cfg, err := Load(dir)

	// Then: both stay enabled
	require.NoError(t, err)
	assert.True(t, cfg.Bulk.Enabled)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvBooleansAndStrings(t *testing.T) {
	// Given: env overrides for booleans and strings
	isolate(t)
	t.Setenv("INDEXPOOL_BULK_ENABLED", "false")
	t.Setenv("INDEXPOOL_DATA_DIR", "/var/lib/indexpool")
	t.Setenv("INDEXPOOL_TASK_TIMEOUT", "1m")

	// When: loading configuration
	cfg, err := Load(t.TempDir())

	// Then: they are applied
	require.NoError(t, err)
	assert.False(t, cfg.Bulk.Enabled)
	assert.Equal(t, "/var/lib/indexpool", cfg.Backend.DataDir)
	assert.Equal(t, "1m", cfg.Pool.TaskTimeout)
}

func TestLoad_BadEnvValue(t *testing.T) {
	// Given: a non-numeric worker count in the environment
	isolate(t)
	t.Setenv("INDEXPOOL_MIN_WORKERS", "many")

	// When: loading configuration
	_, err := Load(t.TempDir())

	// Then: a config error is returned
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestLoad_MalformedYAML(t *testing.T) {
	// Given: a project file that is not valid YAML
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".indexpool.yaml"), "pool: [unclosed\n")

	// When: loading configuration
	_, err := Load(dir)

	// Then: parsing fails with a config error
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"min workers zero", func(c *Config) { c.Pool.MinWorkers = 0 }, "pool.min_workers"},
		{"max below min", func(c *Config) { c.Pool.MaxWorkers = 1 }, "pool.max_workers"},
		{"queue capacity", func(c *Config) { c.Pool.QueueCapacity = 0 }, "pool.queue_capacity"},
		{"negative recycle", func(c *Config) { c.Pool.RecycleAfter = -1 }, "pool.recycle_after"},
		{"bad duration", func(c *Config) { c.Pool.KeepAlive = "soon" }, "pool.keep_alive"},
		{"negative duration", func(c *Config) { c.Watch.Debounce = "-1s" }, "watch.debounce"},
		{"backend kind", func(c *Config) { c.Backend.Kind = "postgres" }, "backend.kind"},
		{"data dir", func(c *Config) { c.Backend.DataDir = "" }, "backend.data_dir"},
		{"repo name", func(c *Config) { c.Backend.Repositories["a/b"] = "/x" }, "invalid repository name"},
		{"repo root", func(c *Config) { c.Backend.Repositories["docs"] = "" }, "root must be set"},
		{"fingerprint cache", func(c *Config) { c.Backend.FingerprintCacheSize = 0 }, "fingerprint_cache_size"},
		{"write batch", func(c *Config) { c.Backend.WriteBatch = 0 }, "backend.write_batch"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a default config with one invalid field
			cfg := NewConfig()
			tt.mutate(cfg)

			// When: validating
			err := cfg.Validate()

			// Then: the offending field is named
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAdmissionConfig_ConvertsPoolSection(t *testing.T) {
	// Given: a config with timeouts and recycling
	cfg := NewConfig()
	cfg.Pool.MaxWorkers = 4
	cfg.Pool.KeepAlive = "5s"
	cfg.Pool.TaskTimeout = "750ms"
	cfg.Pool.RecycleAfter = 10
	cfg.Pool.BackpressureInterval = "20ms"
	cfg.Bulk.Enabled = false
	require.NoError(t, cfg.Validate())

	// When: converting to controller settings
	ac := cfg.AdmissionConfig()

	// Then: the interactive lane carries the parsed values
	assert.Equal(t, 4, ac.Interactive.MaxWorkers)
	assert.Equal(t, 2, ac.Interactive.MinWorkers)
	assert.Equal(t, 5*time.Second, ac.Interactive.KeepAlive)
	assert.Equal(t, 750*time.Millisecond, ac.Interactive.TaskTimeout)
	assert.NotNil(t, ac.Interactive.Recycle)
	assert.Equal(t, 20*time.Millisecond, ac.BackpressureInterval)
	assert.False(t, ac.BulkEnabled)
	assert.Equal(t, 1, ac.Bulk.MaxWorkers)
	assert.Equal(t, 1, ac.Bulk.QueueCapacity)
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	// Given: a modified config written as a project file
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Pool.MaxWorkers = 11
	cfg.Backend.Repositories["wiki"] = "/srv/wiki"
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".indexpool.yaml")))

	// When: loading it back
	loaded, err := Load(dir)

	// Then: the values survive
	require.NoError(t, err)
	assert.Equal(t, 11, loaded.Pool.MaxWorkers)
	assert.Equal(t, "/srv/wiki", loaded.Backend.Repositories["wiki"])
}

func TestGetUserConfigPath_HonoursXDG(t *testing.T) {
	// Given: XDG_CONFIG_HOME is set
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	// Then: the user config lives under it
	assert.Equal(t, filepath.Join("/tmp/xdg", "indexpool", "config.yaml"), GetUserConfigPath())
}
