// main package for the docgen-service
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
	"github.com/book-expert/media-jobs/internal/artifacts"
	"github.com/book-expert/media-jobs/internal/config"
	"github.com/book-expert/media-jobs/internal/convert"
	"github.com/book-expert/media-jobs/internal/core"
	"github.com/book-expert/media-jobs/internal/docgen"
	"github.com/book-expert/media-jobs/internal/httpapi"
	"github.com/book-expert/media-jobs/internal/objectstore"
	"github.com/book-expert/media-jobs/internal/templates"
)

const serviceName = "docgen-service"

func run() error {
	cfg, log, closeLog, err := app.Bootstrap(serviceName, config.DefaultDocgenPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)

		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirrors, closeMirrors := setupMirrors(ctx, cfg, log)
	defer closeMirrors()

	publisher, err := artifacts.NewPublisher(cfg.Paths.GeneratedDir, log, mirrors...)
	if err != nil {
		log.Error("Failed to prepare generated directory: %v", err)

		return err
	}

	locator, err := templates.NewLocator(cfg.Paths.TemplatesDir)
	if err != nil {
		return err
	}

	converter := convert.NewSofficeConverter(
		cfg.Docgen.ConverterBinary, cfg.ConversionTimeout(), cfg.Paths.WorkDir, nil, log)
	service := docgen.NewService(
		locator, templates.NewDocxRenderer(log), converter, publisher, cfg.Paths.WorkDir, log)

	sweeper := artifacts.NewSweeper(publisher.Dir(), cfg.Retention(),
		secondsOrDefault(cfg.Docgen.SweepIntervalSeconds), log)
	go sweeper.Run(ctx)

	handler := httpapi.NewDocgenHandler(service, publisher, httpapi.OptionsFrom(cfg.Server), log)
	srv := httpapi.NewServer(cfg.Server, cfg.Addr(), cfg.WriteTimeout(cfg.ConversionTimeout()), handler)

	log.System("Docgen service ready (templates: %s, generated: %s)", locator.Dir(), publisher.Dir())

	return app.Serve(ctx, srv, log)
}

// setupMirrors connects the optional artifact mirrors. A mirror that cannot be
// reached is skipped with a warning; local files stay authoritative.
func setupMirrors(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]core.ArtifactMirror, func()) {
	var mirrors []core.ArtifactMirror

	closeFn := func() {}

	if cfg.NATS.URL != "" {
		natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
		if err != nil {
			log.Warn("NATS artifact mirror disabled: %v", err)
		} else {
			store, storeErr := newNatsMirror(natsConnection, cfg.NATS.ArtifactBucket)
			if storeErr != nil {
				log.Warn("NATS artifact mirror disabled: %v", storeErr)
				natsConnection.Close()
			} else {
				mirrors = append(mirrors, store)
				closeFn = natsConnection.Close
			}
		}
	}

	if cfg.S3.Endpoint != "" {
		store, err := objectstore.NewS3ArtifactStore(ctx, objectstore.S3Options{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Secure:    cfg.S3.Secure,
		})
		if err != nil {
			log.Warn("S3 artifact mirror disabled: %v", err)
		} else {
			mirrors = append(mirrors, store)
		}
	}

	return mirrors, closeFn
}

func newNatsMirror(natsConnection *nats.Conn, bucket string) (*objectstore.NatsArtifactStore, error) {
	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return objectstore.NewNatsArtifactStore(jetstreamContext, bucket)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
