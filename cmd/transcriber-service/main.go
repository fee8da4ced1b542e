// main package for the transcriber-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/media-jobs/internal/app"
	"github.com/book-expert/media-jobs/internal/config"
	"github.com/book-expert/media-jobs/internal/fetch"
	"github.com/book-expert/media-jobs/internal/httpapi"
	"github.com/book-expert/media-jobs/internal/speech"
	"github.com/book-expert/media-jobs/internal/transcription"
	"github.com/book-expert/media-jobs/internal/worker"
)

const serviceName = "transcriber-service"

func run() error {
	cfg, log, closeLog, err := app.Bootstrap(serviceName, config.DefaultTranscriberPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)

		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The model is loaded once, before the listener opens.
	model, err := speech.Load(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to load speech model: %v", err)

		return err
	}

	defer func() {
		closeErr := model.Close()
		if closeErr != nil {
			log.Warn("Failed to release speech model: %v", closeErr)
		}
	}()

	downloader := fetch.NewDownloader(fetch.Options{
		Timeout:      cfg.FetchTimeout(),
		MaxBytes:     cfg.Fetch.MaxBytes,
		AllowedHosts: cfg.Fetch.AllowedHosts,
		WorkDir:      cfg.Paths.WorkDir,
	}, log)
	service := transcription.NewService(downloader, model, log)

	if cfg.NATS.URL != "" {
		stopWorker, workerErr := startWorker(ctx, cfg, service, log)
		if workerErr != nil {
			return workerErr
		}
		defer stopWorker()
	}

	handler := httpapi.NewTranscriberHandler(service, httpapi.OptionsFrom(cfg.Server), log)
	writeTimeout := cfg.WriteTimeout(cfg.TranscriptionBudget())
	srv := httpapi.NewServer(cfg.Server, cfg.Addr(), writeTimeout, handler)

	log.System("Transcriber service ready with model '%s' (write timeout %s)", model.Name(), writeTimeout)

	return app.Serve(ctx, srv, log)
}

// startWorker answers transcription requests over NATS alongside HTTP.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	service *transcription.Service,
	log *logger.Logger,
) (func(), error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	natsWorker := worker.NewNatsWorker(
		natsConnection, cfg.NATS.TranscriptionSubject, service, cfg.TranscriptionBudget(), log)

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		runErr := natsWorker.Run(workerCtx)
		if runErr != nil {
			log.Error("NATS worker stopped: %v", runErr)
		}
	}()

	return func() {
		cancel()
		<-done
		natsConnection.Close()
	}, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
