// Package config loads rebind's settings into one explicit Config value.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/lherron/rebind/internal/domain"
)

// Config represents the application configuration
type Config struct {
	Dialect      string           `yaml:"dialect" toml:"dialect"`
	DSN          string           `yaml:"dsn" toml:"dsn"`
	Schema       string           `yaml:"schema" toml:"schema"`
	MaxOpenConns int              `yaml:"max_open_conns" toml:"max_open_conns"`
	SourceID     string           `yaml:"source_id" toml:"source_id"`
	TargetID     string           `yaml:"target_id" toml:"target_id"`
	DryRun       bool             `yaml:"dry_run" toml:"dry_run"`
	Bindings     []domain.Binding `yaml:"bindings" toml:"bindings"`
	Scan         ScanConfig       `yaml:"scan" toml:"scan"`
	Entity       domain.EntityRef `yaml:"entity" toml:"entity"`
	StateDB      string           `yaml:"state_db" toml:"state_db"`
	Backup       BackupConfig     `yaml:"backup" toml:"backup"`
	Report       string           `yaml:"report" toml:"report"`
	Webhooks     WebhookConfig    `yaml:"webhooks" toml:"webhooks"`
	LogLevel     string           `yaml:"log_level" toml:"log_level"`
	LogFormat    string           `yaml:"log_format" toml:"log_format"`
	Output       string           `yaml:"output" toml:"output"`

	// Path of the config file that was read, if any
	File string `yaml:"-" toml:"-"`
}

// ScanConfig enables schema-scan binding discovery
type ScanConfig struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	Patterns      []string `yaml:"patterns" toml:"patterns"`
	ExcludeTables []string `yaml:"exclude_tables" toml:"exclude_tables"`
}

// BackupConfig selects where entity snapshots are stored
type BackupConfig struct {
	Storage string `yaml:"storage" toml:"storage"`
	Dir     string `yaml:"dir" toml:"dir"`
}

// WebhookConfig lists report webhook targets
type WebhookConfig struct {
	URLs    []string `yaml:"urls" toml:"urls"`
	Timeout string   `yaml:"timeout" toml:"timeout"`
}

// Backup storage kinds
const (
	BackupStorageFile  = "file"
	BackupStorageState = "state"
)

// Options controls where Load looks
type Options struct {
	// ConfigPath is an explicit config file; it must exist when set
	ConfigPath string
	// Dir is where the local config and .env.local search starts; defaults to cwd
	Dir string
}

// Defaults returns the configuration used when nothing else is set
func Defaults() *Config {
	return &Config{
		Dialect:   "sqlite",
		DryRun:    true,
		LogLevel:  "info",
		LogFormat: "console",
		Output:    "table",
		Backup:    BackupConfig{Storage: BackupStorageFile},
	}
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables (REBIND_*)
// 2. .env.local (dotenv) - walks up parent directories to find it
// 3. Config file: --config, ./rebind.{yaml,yml,toml}, or ~/.config/rebind/config.{yaml,toml}
// 4. Defaults
func Load(opts Options) (*Config, error) {
	cfg := Defaults()

	dir := opts.Dir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = cwd
	}

	local := map[string]string{}
	if envPath := findEnvLocal(dir); envPath != "" {
		values, err := godotenv.Read(envPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", envPath, err)
		}
		local = values
	}
	env := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return local[key]
	}

	path := opts.ConfigPath
	if path == "" {
		path = env("REBIND_CONFIG")
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	} else if found := findConfigFile(dir); found != "" {
		if err := loadFile(cfg, found); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}

	if cfg.StateDB == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.StateDB = filepath.Join(homeDir, ".local", "share", "rebind", "state.db")
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(filepath.Dir(cfg.StateDB), "backups")
	}

	return cfg, nil
}

func applyEnv(cfg *Config, env func(string) string) error {
	setString := func(dst *string, key string) {
		if v := env(key); v != "" {
			*dst = v
		}
	}

	setString(&cfg.Dialect, "REBIND_DIALECT")
	if dsn := getEnvOrFile(env, "REBIND_DSN", "REBIND_DSN_FILE"); dsn != "" {
		cfg.DSN = dsn
	}
	setString(&cfg.Schema, "REBIND_SCHEMA")
	setString(&cfg.SourceID, "REBIND_SOURCE_ID")
	setString(&cfg.TargetID, "REBIND_TARGET_ID")
	setString(&cfg.StateDB, "REBIND_STATE_DB")
	setString(&cfg.Backup.Storage, "REBIND_BACKUP_STORAGE")
	setString(&cfg.Backup.Dir, "REBIND_BACKUP_DIR")
	setString(&cfg.Report, "REBIND_REPORT")
	setString(&cfg.LogLevel, "REBIND_LOG_LEVEL")
	setString(&cfg.LogFormat, "REBIND_LOG_FORMAT")
	setString(&cfg.Output, "REBIND_OUTPUT")
	setString(&cfg.Webhooks.Timeout, "REBIND_WEBHOOK_TIMEOUT")

	if v := env("REBIND_MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.ConfigurationError("REBIND_MAX_OPEN_CONNS: %v", err)
		}
		cfg.MaxOpenConns = n
	}
	if v := env("REBIND_DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return domain.ConfigurationError("REBIND_DRY_RUN: %v", err)
		}
		cfg.DryRun = b
	}
	if v := env("REBIND_BINDINGS"); v != "" {
		bindings, err := ParseBindings(v)
		if err != nil {
			return err
		}
		cfg.Bindings = bindings
	}
	if v := env("REBIND_ENTITY"); v != "" {
		entity, err := ParseEntity(v)
		if err != nil {
			return err
		}
		cfg.Entity = entity
	}
	if v := env("REBIND_WEBHOOK_URLS"); v != "" {
		cfg.Webhooks.URLs = splitList(v)
	}
	return nil
}

// Validate checks the settings needed to open the data store and run the
// engine
func (c *Config) Validate() error {
	switch c.Dialect {
	case "sqlite", "postgres":
	default:
		return domain.ConfigurationError("unsupported dialect %q (must be one of: sqlite, postgres)", c.Dialect)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return domain.ConfigurationError("no data store DSN configured (set dsn or REBIND_DSN)")
	}
	if c.Schema != "" {
		if err := domain.ValidateIdentifier("schema", c.Schema); err != nil {
			return err
		}
	}
	if !c.Scan.Enabled {
		if err := domain.ValidateBindings(c.Bindings); err != nil {
			return err
		}
	} else if len(c.Scan.Patterns) == 0 {
		return domain.ConfigurationError("scan.enabled requires scan.patterns")
	}
	if !c.Entity.IsZero() {
		if err := domain.ValidateEntityRef(c.Entity); err != nil {
			return err
		}
	}
	switch c.Backup.Storage {
	case BackupStorageFile, BackupStorageState:
	default:
		return domain.ConfigurationError("unknown backup storage %q (must be one of: file, state)", c.Backup.Storage)
	}
	if _, err := c.WebhookTimeout(); err != nil {
		return err
	}
	return nil
}

// WebhookTimeout parses webhooks.timeout; zero means the default
func (c *Config) WebhookTimeout() (time.Duration, error) {
	if c.Webhooks.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Webhooks.Timeout)
	if err != nil {
		return 0, domain.ConfigurationError("webhooks.timeout: %v", err)
	}
	return d, nil
}

// Target returns the configured source and target pair
func (c *Config) Target() domain.MigrationTarget {
	return domain.MigrationTarget{SourceID: c.SourceID, TargetID: c.TargetID}
}

// Mode returns the run mode implied by DryRun
func (c *Config) Mode() domain.RunMode {
	return domain.ModeFor(c.DryRun)
}

// ParseBinding parses "table.column"
func ParseBinding(s string) (domain.Binding, error) {
	table, column, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return domain.Binding{}, domain.ConfigurationError("binding %q must be table.column", s)
	}
	b := domain.Binding{Table: table, Column: column}
	if err := domain.ValidateBinding(b); err != nil {
		return domain.Binding{}, err
	}
	return b, nil
}

// ParseBindings parses a comma separated list of table.column bindings
func ParseBindings(s string) ([]domain.Binding, error) {
	var out []domain.Binding
	for _, part := range splitList(s) {
		b, err := ParseBinding(part)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ParseEntity parses "table.primary_key"
func ParseEntity(s string) (domain.EntityRef, error) {
	table, pk, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return domain.EntityRef{}, domain.ConfigurationError("entity %q must be table.primary_key", s)
	}
	e := domain.EntityRef{Table: table, PrimaryKey: pk}
	if err := domain.ValidateEntityRef(e); err != nil {
		return domain.EntityRef{}, err
	}
	return e, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadFile decodes a YAML or TOML config file, chosen by extension
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ConfigurationError("failed to read config file: %v", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return domain.ConfigurationError("failed to parse %s: %v", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return domain.ConfigurationError("failed to parse %s: %v", path, err)
		}
	}
	cfg.File = path
	return nil
}

// findConfigFile looks for rebind.{yaml,yml,toml} in dir, then for
// ~/.config/rebind/config.{yaml,toml}
func findConfigFile(dir string) string {
	candidates := []string{
		filepath.Join(dir, "rebind.yaml"),
		filepath.Join(dir, "rebind.yml"),
		filepath.Join(dir, "rebind.toml"),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(homeDir, ".config", "rebind", "config.yaml"),
			filepath.Join(homeDir, ".config", "rebind", "config.toml"),
		)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(env func(string) string, envVar, fileVar string) string {
	if val := env(envVar); val != "" {
		return val
	}

	if filePath := env(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from start and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal(start string) string {
	dir := filepath.Clean(start)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, just check the start directory
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		return ""
	}
	homeDir = filepath.Clean(homeDir)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		// Stop if we've reached home directory
		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
