// Package config loads the workspace configuration file and applies
// environment variable overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zonecraft/zonecraft/pkg/telemetry"
)

const (
	// DefaultPath is where the CLI looks for the workspace config when
	// --config is not given.
	DefaultPath = "zonecraft.yaml"

	defaultTemplatesDir  = "templates"
	defaultStateDir      = "state"
	defaultBackupPath    = "zonecraft.db"
	defaultRetentionDays = 30
	defaultParallelism   = 4
	defaultOpTimeout     = 30 * time.Second
)

// Config is the workspace configuration.
type Config struct {
	// TemplatesDir is where zone templates live, relative to the
	// config file unless absolute.
	TemplatesDir string `yaml:"templates_dir"`

	// StateDir holds the local record store, one JSON file per domain.
	StateDir string `yaml:"state_dir"`

	// Domain is the default domain for commands that do not pass
	// --domain.
	Domain string `yaml:"domain"`

	// Environment is the default environment for commands that do not
	// pass --env.
	Environment string `yaml:"environment"`

	Backup    Backup           `yaml:"backup"`
	Apply     Apply            `yaml:"apply"`
	Policy    Policy           `yaml:"policy"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Backup configures the snapshot store.
type Backup struct {
	// Path is the SQLite database file holding snapshots.
	Path string `yaml:"path"`

	// RetentionDays is how long snapshots are kept. Zero disables
	// pruning.
	RetentionDays int `yaml:"retention_days"`
}

// Apply configures plan execution defaults. Command-line flags
// override these per run.
type Apply struct {
	Parallelism  int           `yaml:"parallelism"`
	OpTimeout    time.Duration `yaml:"op_timeout"`
	AllowDeletes bool          `yaml:"allow_deletes"`
	Strict       bool          `yaml:"strict"`
	AutoRollback bool          `yaml:"auto_rollback"`
}

// Policy configures custom safety policy loading.
type Policy struct {
	// Dir holds custom .rego and .json policies loaded on top of the
	// built-ins. Empty means built-ins only.
	Dir string `yaml:"dir"`

	// Watch reloads policies when files under Dir change.
	Watch bool `yaml:"watch"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		TemplatesDir: defaultTemplatesDir,
		StateDir:     defaultStateDir,
		Backup: Backup{
			Path:          defaultBackupPath,
			RetentionDays: defaultRetentionDays,
		},
		Apply: Apply{
			Parallelism:  defaultParallelism,
			OpTimeout:    defaultOpTimeout,
			AutoRollback: true,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads the config file at path, fills in defaults, and applies
// ZONECRAFT_* environment overrides. A missing file is not an error,
// the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// fall through to env overrides
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		cfg.applyDefaults()
		cfg.resolvePaths(filepath.Dir(path))
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	if c.TemplatesDir == "" {
		c.TemplatesDir = defaultTemplatesDir
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}
	if c.Backup.Path == "" {
		c.Backup.Path = defaultBackupPath
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = defaultRetentionDays
	}
	if c.Apply.Parallelism == 0 {
		c.Apply.Parallelism = defaultParallelism
	}
	if c.Apply.OpTimeout == 0 {
		c.Apply.OpTimeout = defaultOpTimeout
	}
	def := telemetry.DefaultConfig()
	if c.Telemetry.Logging.Level == "" {
		c.Telemetry.Logging.Level = def.Logging.Level
	}
	if c.Telemetry.Logging.Format == "" {
		c.Telemetry.Logging.Format = def.Logging.Format
	}
	if c.Telemetry.Logging.Output == "" {
		c.Telemetry.Logging.Output = def.Logging.Output
	}
	if c.Telemetry.Metrics.Namespace == "" {
		c.Telemetry.Metrics.Namespace = def.Metrics.Namespace
	}
	if c.Telemetry.Tracing.ServiceName == "" {
		c.Telemetry.Tracing.ServiceName = def.Tracing.ServiceName
	}
}

// resolvePaths anchors relative paths at the config file's directory.
func (c *Config) resolvePaths(base string) {
	if base == "" || base == "." {
		return
	}
	if !filepath.IsAbs(c.TemplatesDir) {
		c.TemplatesDir = filepath.Join(base, c.TemplatesDir)
	}
	if !filepath.IsAbs(c.StateDir) {
		c.StateDir = filepath.Join(base, c.StateDir)
	}
	if !filepath.IsAbs(c.Backup.Path) {
		c.Backup.Path = filepath.Join(base, c.Backup.Path)
	}
	if c.Policy.Dir != "" && !filepath.IsAbs(c.Policy.Dir) {
		c.Policy.Dir = filepath.Join(base, c.Policy.Dir)
	}
}

// applyEnv overrides config values from ZONECRAFT_* environment
// variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("ZONECRAFT_TEMPLATES_DIR"); v != "" {
		c.TemplatesDir = v
	}
	if v := os.Getenv("ZONECRAFT_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("ZONECRAFT_DOMAIN"); v != "" {
		c.Domain = v
	}
	if v := os.Getenv("ZONECRAFT_ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("ZONECRAFT_BACKUP_PATH"); v != "" {
		c.Backup.Path = v
	}
	if v := os.Getenv("ZONECRAFT_BACKUP_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Backup.RetentionDays = days
		}
	}
	if v := os.Getenv("ZONECRAFT_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Apply.Parallelism = n
		}
	}
	if v := os.Getenv("ZONECRAFT_OP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Apply.OpTimeout = d
		}
	}
	if v := os.Getenv("ZONECRAFT_ALLOW_DELETES"); v != "" {
		c.Apply.AllowDeletes = parseBool(v, c.Apply.AllowDeletes)
	}
	if v := os.Getenv("ZONECRAFT_STRICT"); v != "" {
		c.Apply.Strict = parseBool(v, c.Apply.Strict)
	}
	if v := os.Getenv("ZONECRAFT_AUTO_ROLLBACK"); v != "" {
		c.Apply.AutoRollback = parseBool(v, c.Apply.AutoRollback)
	}
	if v := os.Getenv("ZONECRAFT_POLICY_DIR"); v != "" {
		c.Policy.Dir = v
	}
	if v := os.Getenv("ZONECRAFT_LOG_LEVEL"); v != "" {
		c.Telemetry.Logging.Level = v
	}
	if v := os.Getenv("ZONECRAFT_LOG_FORMAT"); v != "" {
		c.Telemetry.Logging.Format = v
	}
	if v := os.Getenv("ZONECRAFT_METRICS_LISTEN"); v != "" {
		c.Telemetry.Metrics.Listen = v
		c.Telemetry.Metrics.Enabled = true
	}
}

func (c *Config) validate() error {
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days must not be negative, got %d", c.Backup.RetentionDays)
	}
	if c.Apply.Parallelism < 1 {
		return fmt.Errorf("apply.parallelism must be at least 1, got %d", c.Apply.Parallelism)
	}
	if c.Apply.OpTimeout <= 0 {
		return fmt.Errorf("apply.op_timeout must be positive, got %s", c.Apply.OpTimeout)
	}
	switch strings.ToLower(c.Telemetry.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console, got %q", c.Telemetry.Logging.Format)
	}
	return nil
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}
