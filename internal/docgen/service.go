// Package docgen runs the render, convert and publish pipeline for documents.
package docgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"

	"github.com/book-expert/media-jobs/internal/apperr"
	"github.com/book-expert/media-jobs/internal/artifacts"
	"github.com/book-expert/media-jobs/internal/core"
	"github.com/book-expert/media-jobs/internal/validate"
)

const renderedFileName = "document.docx"

// TemplateLocator resolves a template name to a path.
type TemplateLocator interface {
	Locate(name string) (string, error)
}

// ArtifactPublisher stores a finished document under a new identifier.
type ArtifactPublisher interface {
	PublishFile(ctx context.Context, srcPath, ext string) (artifacts.GeneratedArtifact, error)
}

// Request is a validated render job.
type Request struct {
	TemplateName string
	Data         map[string]any
	Format       string
}

// Service generates documents from templates.
type Service struct {
	locator   TemplateLocator
	renderer  core.TemplateRenderer
	converter core.DocumentConverter
	publisher ArtifactPublisher
	workDir   string
	log       *logger.Logger
}

// NewService creates a document pipeline. Rendering happens in per-request
// directories under workDir.
func NewService(
	locator TemplateLocator,
	renderer core.TemplateRenderer,
	converter core.DocumentConverter,
	publisher ArtifactPublisher,
	workDir string,
	log *logger.Logger,
) *Service {
	return &Service{
		locator:   locator,
		renderer:  renderer,
		converter: converter,
		publisher: publisher,
		workDir:   workDir,
		log:       log,
	}
}

// Generate renders the template, converts it when a non-DOCX format is requested
// and publishes the result. Nothing is published when any step fails.
func (s *Service) Generate(ctx context.Context, req Request) (artifacts.GeneratedArtifact, error) {
	templatePath, err := s.locator.Locate(req.TemplateName)
	if err != nil {
		return artifacts.GeneratedArtifact{}, err
	}

	jobDir, err := os.MkdirTemp(s.workDir, "docgen-*")
	if err != nil {
		return artifacts.GeneratedArtifact{}, apperr.New(apperr.KindInternal, "generate",
			"failed to create job directory", err)
	}

	defer func() {
		removeErr := os.RemoveAll(jobDir)
		if removeErr != nil {
			s.log.Warn("Failed to remove job directory '%s': %v", jobDir, removeErr)
		}
	}()

	renderedPath := filepath.Join(jobDir, renderedFileName)

	err = s.renderer.Render(ctx, templatePath, req.Data, renderedPath)
	if err != nil {
		return artifacts.GeneratedArtifact{}, err
	}

	finalPath := renderedPath
	if req.Format != validate.FormatDocx {
		finalPath, err = s.converter.Convert(ctx, renderedPath, req.Format)
		if err != nil {
			return artifacts.GeneratedArtifact{}, err
		}
	}

	artifact, err := s.publisher.PublishFile(ctx, finalPath, req.Format)
	if err != nil {
		return artifacts.GeneratedArtifact{}, fmt.Errorf("failed to publish %s: %w", req.TemplateName, err)
	}

	s.log.Info("Generated %s from %s", artifact.FileName, req.TemplateName)

	return artifact, nil
}
