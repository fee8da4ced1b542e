// Package artifacts publishes generated documents under unique identifiers and
// serves them back by file name.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/book-expert/media-jobs/internal/apperr"
	"github.com/book-expert/media-jobs/internal/core"
	"github.com/book-expert/media-jobs/internal/validate"
)

const (
	opPublish        = "publish"
	opServe          = "serve_file"
	tempPrefix       = ".publish-"
	maxIDAttempts    = 3
	generatedDirPerm = 0o750
	artifactFilePerm = 0o644
)

// ErrIDExhausted indicates that no unused identifier could be allocated.
var ErrIDExhausted = errors.New("failed to allocate an unused artifact identifier")

// GeneratedArtifact describes a published file.
type GeneratedArtifact struct {
	ID        string
	FileName  string
	Path      string
	Format    string
	Size      int64
	CreatedAt time.Time
}

// Publisher writes artifacts into the generated directory. Files are created once
// and never rewritten.
type Publisher struct {
	dir     string
	mirrors []core.ArtifactMirror
	log     *logger.Logger
}

// NewPublisher creates the generated directory if needed.
func NewPublisher(dir string, log *logger.Logger, mirrors ...core.ArtifactMirror) (*Publisher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve generated directory '%s': %w", dir, err)
	}

	err = os.MkdirAll(absDir, generatedDirPerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create generated directory '%s': %w", absDir, err)
	}

	return &Publisher{dir: absDir, mirrors: mirrors, log: log}, nil
}

// Dir returns the absolute generated directory.
func (p *Publisher) Dir() string {
	return p.dir
}

// Publish stores data as a new artifact with the given extension.
func (p *Publisher) Publish(ctx context.Context, data []byte, ext string) (GeneratedArtifact, error) {
	return p.publish(ctx, bytes.NewReader(data), ext)
}

// PublishFile copies the file at srcPath into a new artifact.
func (p *Publisher) PublishFile(ctx context.Context, srcPath, ext string) (GeneratedArtifact, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return GeneratedArtifact{}, apperr.New(apperr.KindInternal, opPublish, "failed to open rendered file", err)
	}
	defer src.Close()

	return p.publish(ctx, src, ext)
}

func (p *Publisher) publish(ctx context.Context, src io.Reader, ext string) (GeneratedArtifact, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")

	tempPath, size, err := p.writeTemp(src)
	if err != nil {
		return GeneratedArtifact{}, apperr.New(apperr.KindInternal, opPublish, "failed to write artifact", err)
	}

	defer func() {
		removeErr := os.Remove(tempPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			p.log.Warn("Failed to remove temp artifact '%s': %v", tempPath, removeErr)
		}
	}()

	artifact, err := p.claim(tempPath, ext)
	if err != nil {
		return GeneratedArtifact{}, apperr.New(apperr.KindInternal, opPublish, "failed to publish artifact", err)
	}

	artifact.Size = size

	p.log.Info("Published %s (%s)", artifact.FileName, humanize.Bytes(uint64(size)))
	p.mirror(ctx, artifact)

	return artifact, nil
}

// writeTemp writes src to a hidden file in the generated directory and syncs it.
func (p *Publisher) writeTemp(src io.Reader) (string, int64, error) {
	tempFile, err := os.CreateTemp(p.dir, tempPrefix+"*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	size, err := io.Copy(tempFile, src)
	if err == nil {
		err = tempFile.Sync()
	}

	if err == nil {
		err = tempFile.Chmod(artifactFilePerm)
	}

	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tempFile.Name())

		return "", 0, err
	}

	return tempFile.Name(), size, nil
}

// claim links the finished temp file to a fresh {id}.{ext} name. Linking fails when
// the name exists, so an identifier is never reused.
func (p *Publisher) claim(tempPath, ext string) (GeneratedArtifact, error) {
	for range maxIDAttempts {
		id := uuid.NewString()
		fileName := id + "." + ext
		finalPath := filepath.Join(p.dir, fileName)

		err := os.Link(tempPath, finalPath)
		if errors.Is(err, os.ErrExist) {
			continue
		}

		if err != nil {
			err = p.renameExclusive(tempPath, finalPath)
			if errors.Is(err, os.ErrExist) {
				continue
			}

			if err != nil {
				return GeneratedArtifact{}, err
			}
		}

		return GeneratedArtifact{
			ID:        id,
			FileName:  fileName,
			Path:      finalPath,
			Format:    ext,
			CreatedAt: time.Now().UTC(),
		}, nil
	}

	return GeneratedArtifact{}, ErrIDExhausted
}

// renameExclusive is the fallback for filesystems without hard links.
func (p *Publisher) renameExclusive(tempPath, finalPath string) error {
	_, statErr := os.Lstat(finalPath)
	if statErr == nil {
		return os.ErrExist
	}

	err := os.Rename(tempPath, finalPath)
	if err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}

	return nil
}

func (p *Publisher) mirror(ctx context.Context, artifact GeneratedArtifact) {
	if len(p.mirrors) == 0 {
		return
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		p.log.Warn("Failed to read %s for mirroring: %v", artifact.FileName, err)

		return
	}

	for _, mirror := range p.mirrors {
		uploadErr := mirror.Upload(ctx, artifact.FileName, data)
		if uploadErr != nil {
			p.log.Warn("Failed to mirror %s to %s: %v", artifact.FileName, mirror.Name(), uploadErr)

			continue
		}

		p.log.Info("Mirrored %s to %s", artifact.FileName, mirror.Name())
	}
}

// Open returns the named artifact for reading. Names that are not plain file names
// inside the generated directory are reported as not found.
func (p *Publisher) Open(fileName string) (*os.File, os.FileInfo, error) {
	if !validate.FlatName(fileName) {
		return nil, nil, apperr.NotFound(opServe, "File not found")
	}

	file, err := os.Open(filepath.Join(p.dir, fileName))
	if err != nil {
		return nil, nil, apperr.New(apperr.KindNotFound, opServe, "File not found", err)
	}

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = file.Close()

		return nil, nil, apperr.NotFound(opServe, "File not found")
	}

	return file, info, nil
}
