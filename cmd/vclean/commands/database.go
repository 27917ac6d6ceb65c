package commands

import (
	"context"
	"database/sql"

	"github.com/teranos/vclean/am"
	"github.com/teranos/vclean/cleaner"
	"github.com/teranos/vclean/db"
	"github.com/teranos/vclean/errors"
	"github.com/teranos/vclean/logger"
	"github.com/teranos/vclean/schema"
	"github.com/teranos/vclean/versioned"
)

// ConfigFile overrides the am.toml cascade when set by --config
var ConfigFile string

// loadConfig loads and validates the configuration
func loadConfig() (*am.Config, error) {
	var (
		cfg *am.Config
		err error
	)
	if ConfigFile != "" {
		cfg, err = am.LoadFromFile(ConfigFile)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// openDatabase opens and migrates the job database.
// If dbPath is empty, it comes from the config.
func openDatabase(cfg *am.Config, dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// openTarget connects to the content database
func openTarget(ctx context.Context, cfg *am.Config, registry *schema.Registry) (*versioned.Store, error) {
	store, err := versioned.Open(ctx, cfg.Target.Driver, cfg.Target.DSN, registry)
	if err != nil {
		return nil, err
	}
	logger.DBInfow("Content database connected",
		logger.FieldDriver, cfg.Target.Driver,
		logger.FieldTables, len(registry.Types()))
	return store, nil
}

// app bundles the collaborators most commands need
type app struct {
	cfg      *am.Config
	db       *sql.DB
	jobs     *cleaner.Store
	target   *versioned.Store
	registry *schema.Registry
	runner   *cleaner.Runner
}

// openApp loads the config, opens both databases and builds the runner.
// metrics may be nil.
func openApp(ctx context.Context, metrics *cleaner.Metrics) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	registry, err := cfg.Schema.Registry()
	if err != nil {
		return nil, err
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return nil, err
	}

	target, err := openTarget(ctx, cfg, registry)
	if err != nil {
		database.Close()
		return nil, err
	}

	jobs := cleaner.NewStore(database)
	runner := cleaner.NewRunner(cleaner.Deps{
		Jobs:     jobs,
		Versions: target,
		Registry: registry,
		Defaults: cfg.Cleaner.Defaults(),
		Metrics:  metrics,
	}, logger.Logger)

	return &app{
		cfg:      cfg,
		db:       database,
		jobs:     jobs,
		target:   target,
		registry: registry,
		runner:   runner,
	}, nil
}

func (a *app) Close() {
	if err := a.target.Close(); err != nil {
		logger.Warnw("Failed to close content database", logger.FieldError, err)
	}
	if err := a.db.Close(); err != nil {
		logger.Warnw("Failed to close database", logger.FieldError, err)
	}
}
