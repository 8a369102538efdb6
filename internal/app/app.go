package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"library-manager/internal/auth"
	"library-manager/internal/catalog"
	"library-manager/internal/config"
	"library-manager/internal/httpapi"
	"library-manager/internal/lending"
	"library-manager/internal/reporting"
	"library-manager/internal/storage"
	"library-manager/internal/storage/ch"
	"library-manager/internal/storage/sqlstore"
	"library-manager/internal/storage/stubs"
)

// journal is a transition journal the application can initialize and close
type journal interface {
	lending.Journal
	reporting.JournalReader
	Initialize(ctx context.Context) error
	Close() error
}

// App represents the application
type App struct {
	config  *config.Config
	logger  *zap.Logger
	db      storage.Storage
	journal journal
	auth    *auth.Service
	server  *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	if envErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting library manager...")

	ctx := context.Background()

	// Initialize database
	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}

	// Initialize transition journal
	if err := app.initJournal(ctx); err != nil {
		return nil, err
	}

	// Initialize services and HTTP server
	if err := app.initServer(ctx); err != nil {
		return nil, err
	}

	return app, nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// initDatabase opens the relational store and applies migrations
func (a *App) initDatabase(ctx context.Context) error {
	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		a.logger.Info("Connecting to database", zap.String("driver", a.config.DBDriver))
		store, err := sqlstore.Open(ctx, a.config.DBDriver, a.config.DBDSN, sqlstore.WithLogger(a.logger))
		if err != nil {
			return err
		}
		db = store
	}

	// Initialize database schema
	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initJournal connects to ClickHouse when configured. The mock setup keeps
// transitions in memory, otherwise journal reports are unavailable.
func (a *App) initJournal(ctx context.Context) error {
	switch {
	case a.config.JournalEnabled():
		tlsStatus := "without TLS"
		if a.config.ClickHouseUseTLS {
			tlsStatus = "with TLS"
		}
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.String("user", a.config.ClickHouseUser),
			zap.String("tls", tlsStatus),
		)
		j, err := ch.NewClickHouseJournal(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.journal = j
	case a.config.UseMockDB:
		a.journal = stubs.NewMemoryJournal()
	default:
		a.logger.Info("Transition journal disabled")
		return nil
	}

	if err := a.journal.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize journal: %w", err)
	}
	return nil
}

func (a *App) initServer(ctx context.Context) error {
	a.auth = auth.NewService(a.db, auth.NewTokens(a.config.JWTSecret, a.config.TokenTTL), a.logger)

	if a.config.AdminUsername != "" {
		created, err := a.auth.EnsureAdmin(ctx, a.config.AdminUsername, a.config.AdminPassword)
		if err != nil {
			return fmt.Errorf("failed to create administrator: %w", err)
		}
		if created {
			a.logger.Info("Administrator created", zap.String("username", a.config.AdminUsername))
		}
	}

	lendingOpts := []lending.Option{lending.WithLogger(a.logger)}
	var reader reporting.JournalReader
	if a.journal != nil {
		lendingOpts = append(lendingOpts, lending.WithJournal(a.journal))
		reader = a.journal
	}

	api := httpapi.NewServer(
		a.auth,
		catalog.NewService(a.db, a.logger, nil),
		lending.NewService(a.db, lendingOpts...),
		reporting.NewService(a.db, reader),
		httpapi.Options{
			RateLimitRPS:   a.config.RateLimitRPS,
			RateLimitBurst: a.config.RateLimitBurst,
			Logger:         a.logger,
		},
	)

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      api.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return nil
}

// Run starts the HTTP server and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
	case err := <-errChan:
		if err != nil {
			_ = a.Shutdown()
			return fmt.Errorf("http server error: %w", err)
		}
	}
	return a.Shutdown()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	defer func() { _ = a.logger.Sync() }()

	// Shutdown HTTP server gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Error("Error closing journal", zap.Error(err))
		}
	}

	// Close database
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	return nil
}
