// Package cli provides common process bootstrap shared by cmd/snapspend
// and cmd/snapspend-sync.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"snapspend/internal/backend"
	"snapspend/internal/config"
	"snapspend/internal/core"
	applog "snapspend/internal/log"
	"snapspend/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig reads the environment, validates it and installs
// the configured logger as the process default.
func LoadAndValidateConfig() (*config.Config, *applog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := applog.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

// MustLoadConfig is LoadAndValidateConfig for main packages: it exits the
// process on failure.
func MustLoadConfig() (*config.Config, *applog.Logger) {
	cfg, logger, err := LoadAndValidateConfig()
	if err != nil {
		if logger == nil {
			logger = applog.New(applog.DefaultConfig())
		}
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// Identity returns the configured device user. It is the zero Member when
// USER_ID or USER_NAME is unset, which disables share and join.
func Identity(cfg *config.Config) core.Member {
	if !cfg.HasIdentity() {
		return core.Member{}
	}
	return core.Member{UserID: cfg.UserID, DisplayName: cfg.UserName}
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *slog.Logger, dbPath string) *storage.SQLiteRepository {
	sqliteRepo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", dbPath)
		os.Exit(1)
	}
	return sqliteRepo
}

// InitGateway builds the cloud replica selected by CLOUD_BACKEND.
func InitGateway(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*backend.GatewayResult, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	result, err := backend.NewFactory(logger).CreateGateway(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("create %s gateway: %w", backendCfg.Type, err)
	}
	return result, nil
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// WaitWithTimeout runs stop and waits for it at most timeout.
func WaitWithTimeout(logger *slog.Logger, timeout time.Duration, stop func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		stop()
	}()

	select {
	case <-done:
		logger.Info("Shutdown complete")
	case <-time.After(timeout):
		logger.Warn("Shutdown timeout reached")
	}
}
