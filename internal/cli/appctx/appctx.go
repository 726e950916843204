// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logger construction and opening of the
// state and data databases to reduce boilerplate across commands.
package appctx

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lherron/rebind/internal/backup"
	"github.com/lherron/rebind/internal/config"
	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/db"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/logging"
	"github.com/lherron/rebind/internal/registry"
	"github.com/lherron/rebind/internal/render"
	"github.com/lherron/rebind/internal/store"
	"github.com/lherron/rebind/internal/webhooks"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration
	Config *config.Config

	// Logger is built from log_level and log_format
	Logger *zap.Logger

	// State is rebind's own database (nil if NeedsState is false)
	State *db.DB

	// Store wraps State
	Store *store.Store

	// Data is the database whose references are migrated (nil if NeedsData is false)
	Data *datastore.Store
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.Data != nil {
		a.Data.Close()
		a.Data = nil
	}
	if a.State != nil {
		a.State.Close()
		a.State = nil
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsState opens the state database
	NeedsState bool

	// NeedsData validates the config and opens the data store
	NeedsData bool

	// SkipMigrationCheck opens the state database even with pending migrations
	SkipMigrationCheck bool
}

// DefaultOptions returns options for engine commands (state and data).
func DefaultOptions() Options {
	return Options{NeedsState: true, NeedsData: true}
}

// StateOnly returns options for history and backup commands.
func StateOnly() Options {
	return Options{NeedsState: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The databases are closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	app := &App{}

	cfg, err := config.Load(config.Options{ConfigPath: flagString(cmd, "config")})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	app.Config = cfg

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, domain.ConfigurationError("%v", err)
	}
	app.Logger = logger

	if opts.NeedsState {
		database, err := openState(cfg.StateDB, opts.SkipMigrationCheck)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.State = database
		app.Store = store.New(database)
	}

	if opts.NeedsData {
		if err := cfg.Validate(); err != nil {
			app.Close()
			return nil, err
		}
		data, err := OpenData(cfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Data = data
	}

	return app, nil
}

// OpenData opens the data store named by cfg
func OpenData(cfg *config.Config) (*datastore.Store, error) {
	data, err := datastore.Open(datastore.Options{
		Dialect:      datastore.Dialect(cfg.Dialect),
		DSN:          cfg.DSN,
		Schema:       cfg.Schema,
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open data store: %w", err)
	}
	return data, nil
}

// openState opens the state database. A fresh file is migrated in place;
// an existing one with pending migrations is refused.
func openState(path string, skipCheck bool) (*db.DB, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if skipCheck {
		return database, nil
	}

	status, err := database.Status()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}
	if status.Fresh() {
		if _, err := database.Migrate(); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to initialize state database: %w", err)
		}
		return database, nil
	}

	if err := database.RequiresMigrationError(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	derivedBackupDir := cfg.Backup.Dir == filepath.Join(filepath.Dir(cfg.StateDB), "backups")
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"dsn", &cfg.DSN},
		{"dialect", &cfg.Dialect},
		{"schema", &cfg.Schema},
		{"state-db", &cfg.StateDB},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
		{"output", &cfg.Output},
		{"backup-dir", &cfg.Backup.Dir},
		{"backup-storage", &cfg.Backup.Storage},
	}
	for _, o := range overrides {
		if v := flagString(cmd, o.flag); v != "" {
			*o.dst = v
		}
	}
	if derivedBackupDir && flagString(cmd, "backup-dir") == "" {
		cfg.Backup.Dir = filepath.Join(filepath.Dir(cfg.StateDB), "backups")
	}
}

func flagString(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}

// Registry builds the binding registry from the configuration. Schema scan
// takes precedence over the static list when enabled.
func (a *App) Registry() *registry.Registry {
	if a.Config.Scan.Enabled {
		return registry.New(a.ScanProvider(a.Config.Scan.Patterns), a.Config.Schema)
	}
	return registry.New(registry.NewStatic(a.Config.Bindings), a.Config.Schema)
}

// ScanProvider returns a schema-scan provider over the data store
func (a *App) ScanProvider(patterns []string) *registry.SchemaScan {
	return registry.NewSchemaScan(a.Data.Catalog(), registry.ScanOptions{
		Schema:        a.Config.Schema,
		Patterns:      patterns,
		ExcludeTables: a.Config.Scan.ExcludeTables,
		EntityTable:   a.Config.Entity.Table,
	})
}

// Storage returns the configured backup storage
func (a *App) Storage() backup.Storage {
	if a.Config.Backup.Storage == config.BackupStorageState && a.Store != nil {
		return a.Store.Backups
	}
	return backup.NewFileStorage(a.Config.Backup.Dir)
}

// Loader returns a snapshot loader able to read ref
func (a *App) Loader(ref string) (backup.Loader, error) {
	switch {
	case store.IsStateReference(domain.BackupReference(ref)):
		if a.Store == nil {
			return nil, fmt.Errorf("state database is not open")
		}
		return a.Store.Backups, nil
	case backup.IsFileReference(domain.BackupReference(ref)):
		return backup.NewFileStorage(a.Config.Backup.Dir), nil
	default:
		return nil, fmt.Errorf("unrecognized backup reference %q", ref)
	}
}

// Observer logs engine events through the app logger
func (a *App) Observer() events.Observer {
	return events.NewZapObserver(a.Logger)
}

// Webhooks returns the report dispatcher
func (a *App) Webhooks() *webhooks.Dispatcher {
	timeout, _ := a.Config.WebhookTimeout()
	return webhooks.NewDispatcher(a.Config.Webhooks.URLs, timeout, a.Logger)
}

// RenderOptions returns the output options for the configured format
func (a *App) RenderOptions() (render.Options, error) {
	format, err := render.ParseFormat(a.Config.Output)
	if err != nil {
		return render.Options{}, domain.ConfigurationError("%v", err)
	}
	return render.Options{Format: format}, nil
}

// Context returns the command context, or a background context
func Context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
