// Package app holds the startup and shutdown sequence shared by both services.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/joho/godotenv"

	"github.com/book-expert/media-jobs/internal/config"
)

const shutdownTimeout = 15 * time.Second

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in '%s': %w", logPath, err)
	}

	return log, nil
}

// Bootstrap loads .env and the configuration, then opens the service log. The
// returned close func releases the log.
func Bootstrap(service string, defaultPort int) (*config.Config, *logger.Logger, func(), error) {
	bootstrapLog, err := setupLogger(os.TempDir(), service+"-bootstrap.log")
	if err != nil {
		return nil, nil, nil, err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		bootstrapLog.Warn("Failed to read .env file: %v", envErr)
	}

	cfg, err := config.Load(bootstrapLog, defaultPort)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, service+".log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return nil, nil, nil, err
	}

	closeLog := func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}

	return cfg, finalLog, closeLog, nil
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, log *logger.Logger) error {
	errChan := make(chan error, 1)

	go func() {
		log.System("Listening on %s", srv.Addr)

		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down %s", srv.Addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	return nil
}
