// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/changelog"
	"github.com/tildaslashalef/ewsync/internal/config"
	"github.com/tildaslashalef/ewsync/internal/credential"
	"github.com/tildaslashalef/ewsync/internal/database"
	"github.com/tildaslashalef/ewsync/internal/ews"
	"github.com/tildaslashalef/ewsync/internal/folder"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"github.com/tildaslashalef/ewsync/internal/provider"
	"github.com/tildaslashalef/ewsync/internal/sync"
	"github.com/tildaslashalef/ewsync/internal/target"
	"github.com/urfave/cli/v2"
)

// App represents the application instance with its dependencies
type App struct {
	Config    *config.Config
	Settings  *config.SettingsService
	Accounts  *account.Service
	Folders   folder.Store
	Registry  *folder.Registry
	Changelog changelog.Store
	Targets   *target.Manager
	EWS       *ews.Client
	SyncLogs  sync.Repository
	Engine    *sync.Engine
	Scheduler *sync.Scheduler
	Provider  *provider.Provider
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	// Initialize configuration
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	// Initialize logger
	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
	)

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()
	ctx := context.Background()

	settingsService := config.NewSettingsService(db, cfg, logger)
	if err := settingsService.LoadOverrides(ctx); err != nil {
		loggy.Warn("Failed to load settings from database", "error", err)
		// Continue anyway, using defaults
	}

	// A missing keyring is not fatal: accounts can still be listed and
	// edited, only requests that need a secret fail.
	var (
		secrets account.SecretStore
		creds   ews.CredentialSource
	)
	if store, err := credential.Open(cfg.Credentials); err != nil {
		loggy.Warn("Failed to open keyring, stored passwords are unavailable", "error", err)
	} else {
		secrets = store
		creds = store
	}

	accountService := account.NewService(db, secrets, logger)
	folderStore := folder.NewSQLRepository(db, logger)
	changeStore := changelog.NewSQLRepository(db, logger)
	targetManager := target.NewManager(target.NewSQLRepository(db, logger), folderStore, changeStore, cfg.Targets, logger)

	ewsClient := ews.NewClient(cfg.EWS, creds, settingsService, logger)
	registry := folder.NewRegistry(folderStore, ewsClient, logger)
	syncLogs := sync.NewSQLRepository(db, logger)

	engine := sync.NewEngine(
		accountService.Store(),
		registry,
		targetManager,
		changeStore,
		ewsClient,
		syncLogs,
		settingsService,
		cfg.Sync,
		logger,
	)

	scheduler := sync.NewScheduler(engine, accountService.Store(), cfg.Sync.AutosyncTick, logger)

	providerService := provider.New(provider.Deps{
		Accounts:  accountService,
		Registry:  registry,
		Targets:   targetManager,
		Engine:    engine,
		Logs:      syncLogs,
		Directory: ewsClient,
		Timeouts:  settingsService,
	}, cfg.Sync, logger)

	return &App{
		Config:    cfg,
		Settings:  settingsService,
		Accounts:  accountService,
		Folders:   folderStore,
		Registry:  registry,
		Changelog: changeStore,
		Targets:   targetManager,
		EWS:       ewsClient,
		SyncLogs:  syncLogs,
		Engine:    engine,
		Scheduler: scheduler,
		Provider:  providerService,
	}, nil
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
