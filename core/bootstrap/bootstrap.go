// Package bootstrap brings up the infrastructure the bot runs on: the
// logger, the database with migrations applied, and the entity store.
package bootstrap

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/locano/channelbot/core/config"
	"github.com/locano/channelbot/core/database"
	"github.com/locano/channelbot/core/logger"
	"github.com/locano/channelbot/core/store"
)

// Options control the bootstrap pipeline. The function fields exist so tests
// can substitute stages; nil means production wiring.
type Options struct {
	Config   *config.Config
	Database database.Config

	LoggerInit func(*config.Config) error
	Connect    func(database.Config) (*sqlx.DB, error)
	Migrate    func(database.Config) error
}

// Result exposes the infrastructure initialized by the pipeline.
type Result struct {
	DB    *sqlx.DB
	Store store.Store
}

// Run initializes the logger, connects to the database, applies migrations,
// and builds the entity store on top.
func Run(opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = database.Connect
	}
	db, err := connect(opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = database.RunMigrations
	}
	if err := migrate(opts.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	return &Result{DB: db, Store: store.NewPostgres(db)}, nil
}
