package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/indexpool/internal/admission"
	"github.com/Aman-CERP/indexpool/internal/backend"
	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/pool"
	"github.com/Aman-CERP/indexpool/internal/store"
)

// CurrentVersion is the configuration schema version written by WriteYAML.
const CurrentVersion = 1

// Project configuration file names, in lookup order.
const (
	ProjectConfigYAML = ".indexpool.yaml"
	ProjectConfigYML  = ".indexpool.yml"
)

// Config represents the complete indexpool configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Pool    PoolConfig    `yaml:"pool" json:"pool"`
	Bulk    BulkConfig    `yaml:"bulk" json:"bulk"`
	Backend BackendConfig `yaml:"backend" json:"backend"`
	Watch   WatchConfig   `yaml:"watch" json:"watch"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Log     LogConfig     `yaml:"log" json:"log"`

	// switches records which booleans a parsed file set explicitly.
	switches switches
}

type switches struct {
	Bulk struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"bulk"`
	Watch struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"watch"`
}

// PoolConfig sizes the interactive lane.
// Durations are Go duration strings ("30s", "50ms"); "0s" disables the feature.
type PoolConfig struct {
	MinWorkers    int `yaml:"min_workers" json:"min_workers"`
	MaxWorkers    int `yaml:"max_workers" json:"max_workers"`
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// KeepAlive is how long a worker above MinWorkers may sit idle.
	KeepAlive string `yaml:"keep_alive" json:"keep_alive"`

	// BackpressureInterval is how often a blocked producer re-checks the queue.
	BackpressureInterval string `yaml:"backpressure_interval" json:"backpressure_interval"`

	// TaskTimeout is the per-task deadline.
	TaskTimeout string `yaml:"task_timeout" json:"task_timeout"`

	// RecycleAfter restarts a worker after this many tasks. Zero never recycles.
	RecycleAfter int `yaml:"recycle_after" json:"recycle_after"`

	// ShutdownTimeout bounds the drain on shutdown.
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// BulkConfig configures the single-slot lane used for repository reindexing.
type BulkConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// BackendConfig configures the document index and the repositories it serves.
type BackendConfig struct {
	// Kind selects the document index: "sqlite" (default) or "bleve".
	Kind string `yaml:"kind" json:"kind"`

	// DataDir holds the index and its lock file.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Repositories maps repository names to root directories.
	Repositories map[string]string `yaml:"repositories" json:"repositories"`

	// Extensions limits which files are indexable. Empty uses the built-in list.
	Extensions []string `yaml:"extensions" json:"extensions"`

	MaxFileSize          int64  `yaml:"max_file_size" json:"max_file_size"`
	FingerprintCacheSize int    `yaml:"fingerprint_cache_size" json:"fingerprint_cache_size"`
	WriteBatch           int    `yaml:"write_batch" json:"write_batch"`
	CircuitMaxFailures   int    `yaml:"circuit_max_failures" json:"circuit_max_failures"`
	CircuitReset         string `yaml:"circuit_reset" json:"circuit_reset"`
}

// WatchConfig configures the document-save listener.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Debounce string `yaml:"debounce" json:"debounce"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Pool: PoolConfig{
			MinWorkers:           pool.DefaultMinWorkers,
			MaxWorkers:           pool.DefaultMaxWorkers,
			QueueCapacity:        pool.DefaultQueueCapacity,
			KeepAlive:            "30s",
			BackpressureInterval: "50ms",
			TaskTimeout:          "0s",
			RecycleAfter:         0,
			ShutdownTimeout:      "10s",
		},
		Bulk: BulkConfig{
			Enabled: true,
		},
		Backend: BackendConfig{
			Kind:                 string(store.BackendSQLite),
			DataDir:              defaultDataDir(),
			Repositories:         map[string]string{},
			MaxFileSize:          10 << 20,
			FingerprintCacheSize: 4096,
			WriteBatch:           backend.DefaultWriteBatch,
			CircuitMaxFailures:   5,
			CircuitReset:         "30s",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: "200ms",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".indexpool", "data")
	}
	return filepath.Join(home, ".indexpool", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/indexpool/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/indexpool/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "indexpool", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "indexpool", "config.yaml")
	}
	return filepath.Join(home, ".config", "indexpool", "config.yaml")
}

// loadUserConfig loads the user configuration file if it exists.
// A missing file yields a nil config and a nil error.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var cfg Config
	if err := readYAML(configPath, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/indexpool/config.yaml)
//  3. Project config (.indexpool.yaml in dir)
//  4. Environment variables (INDEXPOOL_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile merges .indexpool.yaml or .indexpool.yml from dir, if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectConfigYAML, ProjectConfigYML} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.ConfigError(fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return errors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, &into.switches); err != nil {
		return errors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Pool
	if other.Pool.MinWorkers != 0 {
		c.Pool.MinWorkers = other.Pool.MinWorkers
	}
	if other.Pool.MaxWorkers != 0 {
		c.Pool.MaxWorkers = other.Pool.MaxWorkers
	}
	if other.Pool.QueueCapacity != 0 {
		c.Pool.QueueCapacity = other.Pool.QueueCapacity
	}
	if other.Pool.KeepAlive != "" {
		c.Pool.KeepAlive = other.Pool.KeepAlive
	}
	if other.Pool.BackpressureInterval != "" {
		c.Pool.BackpressureInterval = other.Pool.BackpressureInterval
	}
	if other.Pool.TaskTimeout != "" {
		c.Pool.TaskTimeout = other.Pool.TaskTimeout
	}
	if other.Pool.RecycleAfter != 0 {
		c.Pool.RecycleAfter = other.Pool.RecycleAfter
	}
	if other.Pool.ShutdownTimeout != "" {
		c.Pool.ShutdownTimeout = other.Pool.ShutdownTimeout
	}

	if other.switches.Bulk.Enabled != nil {
		c.Bulk.Enabled = *other.switches.Bulk.Enabled
	}

	// Backend
	if other.Backend.Kind != "" {
		c.Backend.Kind = other.Backend.Kind
	}
	if other.Backend.DataDir != "" {
		c.Backend.DataDir = other.Backend.DataDir
	}
	for name, root := range other.Backend.Repositories {
		c.Backend.Repositories[name] = root
	}
	if len(other.Backend.Extensions) > 0 {
		c.Backend.Extensions = other.Backend.Extensions
	}
	if other.Backend.MaxFileSize != 0 {
		c.Backend.MaxFileSize = other.Backend.MaxFileSize
	}
	if other.Backend.FingerprintCacheSize != 0 {
		c.Backend.FingerprintCacheSize = other.Backend.FingerprintCacheSize
	}
	if other.Backend.WriteBatch != 0 {
		c.Backend.WriteBatch = other.Backend.WriteBatch
	}
	if other.Backend.CircuitMaxFailures != 0 {
		c.Backend.CircuitMaxFailures = other.Backend.CircuitMaxFailures
	}
	if other.Backend.CircuitReset != "" {
		c.Backend.CircuitReset = other.Backend.CircuitReset
	}

	// Watch
	if other.switches.Watch.Enabled != nil {
		c.Watch.Enabled = *other.switches.Watch.Enabled
	}
	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}

	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
	if other.Log.File != "" {
		c.Log.File = other.Log.File
	}
}

// applyEnvOverrides applies INDEXPOOL_* environment variables.
func (c *Config) applyEnvOverrides() error {
	ints := map[string]*int{
		"INDEXPOOL_MIN_WORKERS":    &c.Pool.MinWorkers,
		"INDEXPOOL_MAX_WORKERS":    &c.Pool.MaxWorkers,
		"INDEXPOOL_QUEUE_CAPACITY": &c.Pool.QueueCapacity,
		"INDEXPOOL_RECYCLE_AFTER":  &c.Pool.RecycleAfter,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.ConfigError(fmt.Sprintf("%s must be an integer, got %q", key, v), err)
		}
		*dst = n
	}

	strs := map[string]*string{
		"INDEXPOOL_KEEP_ALIVE":       &c.Pool.KeepAlive,
		"INDEXPOOL_TASK_TIMEOUT":     &c.Pool.TaskTimeout,
		"INDEXPOOL_SHUTDOWN_TIMEOUT": &c.Pool.ShutdownTimeout,
		"INDEXPOOL_BACKEND":          &c.Backend.Kind,
		"INDEXPOOL_DATA_DIR":         &c.Backend.DataDir,
		"INDEXPOOL_METRICS_LISTEN":   &c.Metrics.Listen,
		"INDEXPOOL_LOG_LEVEL":        &c.Log.Level,
		"INDEXPOOL_LOG_FORMAT":       &c.Log.Format,
		"INDEXPOOL_LOG_FILE":         &c.Log.File,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v := os.Getenv("INDEXPOOL_BULK_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.ConfigError(fmt.Sprintf("INDEXPOOL_BULK_ENABLED must be a boolean, got %q", v), err)
		}
		c.Bulk.Enabled = b
	}
	if v := os.Getenv("INDEXPOOL_WATCH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.ConfigError(fmt.Sprintf("INDEXPOOL_WATCH_ENABLED must be a boolean, got %q", v), err)
		}
		c.Watch.Enabled = b
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Pool.MinWorkers < 1 {
		return invalid("pool.min_workers must be at least 1, got %d", c.Pool.MinWorkers)
	}
	if c.Pool.MaxWorkers < c.Pool.MinWorkers {
		return invalid("pool.max_workers (%d) must be >= pool.min_workers (%d)", c.Pool.MaxWorkers, c.Pool.MinWorkers)
	}
	if c.Pool.QueueCapacity < 1 {
		return invalid("pool.queue_capacity must be at least 1, got %d", c.Pool.QueueCapacity)
	}
	if c.Pool.RecycleAfter < 0 {
		return invalid("pool.recycle_after must be non-negative, got %d", c.Pool.RecycleAfter)
	}

	durations := map[string]string{
		"pool.keep_alive":            c.Pool.KeepAlive,
		"pool.backpressure_interval": c.Pool.BackpressureInterval,
		"pool.task_timeout":          c.Pool.TaskTimeout,
		"pool.shutdown_timeout":      c.Pool.ShutdownTimeout,
		"backend.circuit_reset":      c.Backend.CircuitReset,
		"watch.debounce":             c.Watch.Debounce,
	}
	for field, value := range durations {
		if _, err := parseDuration(field, value); err != nil {
			return err
		}
	}

	switch store.Backend(strings.ToLower(c.Backend.Kind)) {
	case store.BackendSQLite, store.BackendBleve:
	default:
		return invalid("backend.kind must be 'sqlite' or 'bleve', got %s", c.Backend.Kind)
	}
	if c.Backend.DataDir == "" {
		return invalid("backend.data_dir must be set")
	}
	for name, root := range c.Backend.Repositories {
		if name == "" || strings.ContainsAny(name, ":/") {
			return invalid("backend.repositories: invalid repository name %q", name)
		}
		if root == "" {
			return invalid("backend.repositories.%s: root must be set", name)
		}
	}
	if c.Backend.FingerprintCacheSize < 1 {
		return invalid("backend.fingerprint_cache_size must be at least 1, got %d", c.Backend.FingerprintCacheSize)
	}
	if c.Backend.WriteBatch < 1 {
		return invalid("backend.write_batch must be at least 1, got %d", c.Backend.WriteBatch)
	}
	if c.Backend.CircuitMaxFailures < 1 {
		return invalid("backend.circuit_max_failures must be at least 1, got %d", c.Backend.CircuitMaxFailures)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return invalid("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		return invalid("log.format must be 'json' or 'text', got %s", c.Log.Format)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.ConfigError(fmt.Sprintf(format, args...), nil)
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.ConfigError(fmt.Sprintf("%s must be a duration like \"30s\", got %q", field, value), err)
	}
	if d < 0 {
		return 0, invalid("%s must not be negative, got %s", field, value)
	}
	return d, nil
}

// mustDuration parses a field that Validate has already accepted.
func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// ShutdownTimeout returns the parsed pool.shutdown_timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return mustDuration(c.Pool.ShutdownTimeout)
}

// CircuitReset returns the parsed backend.circuit_reset.
func (c *Config) CircuitReset() time.Duration {
	return mustDuration(c.Backend.CircuitReset)
}

// WatchDebounce returns the parsed watch.debounce.
func (c *Config) WatchDebounce() time.Duration {
	return mustDuration(c.Watch.Debounce)
}

// AdmissionConfig converts the pool and bulk sections into controller settings.
// Observers and loggers are left for the caller to wire.
func (c *Config) AdmissionConfig() admission.Config {
	cfg := admission.DefaultConfig()

	cfg.Interactive.MinWorkers = c.Pool.MinWorkers
	cfg.Interactive.MaxWorkers = c.Pool.MaxWorkers
	cfg.Interactive.QueueCapacity = c.Pool.QueueCapacity
	cfg.Interactive.KeepAlive = mustDuration(c.Pool.KeepAlive)
	cfg.Interactive.TaskTimeout = mustDuration(c.Pool.TaskTimeout)
	cfg.Interactive.Recycle = pool.EveryN(c.Pool.RecycleAfter)

	cfg.BulkEnabled = c.Bulk.Enabled
	cfg.Bulk.Recycle = pool.EveryN(c.Pool.RecycleAfter)

	cfg.BackpressureInterval = mustDuration(c.Pool.BackpressureInterval)
	return cfg
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
