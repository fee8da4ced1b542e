// Package convert turns rendered documents into other formats with LibreOffice.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/media-jobs/internal/apperr"
)

const (
	opConvert      = "convert"
	defaultTimeout = 2 * time.Minute
	// soffice forks soffice.bin; bound how long we wait for its pipes after a kill.
	pipeWaitDelay = 5 * time.Second
)

// Runner executes a command and returns its combined output.
type Runner interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// CombinedOutput runs the command, killing it when ctx is done.
func (ExecRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- converter binary comes from service configuration
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = pipeWaitDelay

	return cmd.CombinedOutput()
}

// SofficeConverter converts documents with a headless LibreOffice.
type SofficeConverter struct {
	binary  string
	timeout time.Duration
	workDir string
	runner  Runner
	log     *logger.Logger
}

// NewSofficeConverter creates a converter. A nil runner uses os/exec.
func NewSofficeConverter(
	binary string,
	timeout time.Duration,
	workDir string,
	runner Runner,
	log *logger.Logger,
) *SofficeConverter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if runner == nil {
		runner = ExecRunner{}
	}

	return &SofficeConverter{
		binary:  binary,
		timeout: timeout,
		workDir: workDir,
		runner:  runner,
		log:     log,
	}
}

// Convert writes inPath converted to format next to the input and returns the new
// path. Failures carry the converter output as details.
func (c *SofficeConverter) Convert(ctx context.Context, inPath, format string) (string, error) {
	outDir := filepath.Dir(inPath)
	base := strings.TrimSuffix(filepath.Base(inPath), filepath.Ext(inPath))
	outPath := filepath.Join(outDir, base+"."+format)
	target := strings.ToUpper(format)

	// Each run gets its own profile so concurrent conversions do not share a lock.
	profileDir, err := os.MkdirTemp(c.workDir, "soffice-profile-*")
	if err != nil {
		return "", apperr.New(apperr.KindConversion, opConvert, "failed to create converter profile", err)
	}

	defer func() {
		removeErr := os.RemoveAll(profileDir)
		if removeErr != nil {
			c.log.Warn("Failed to remove converter profile '%s': %v", profileDir, removeErr)
		}
	}()

	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(profileDir),
		"--headless",
		"--convert-to", format,
		"--outdir", outDir,
		inPath,
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	output, err := c.runner.CombinedOutput(runCtx, c.binary, args...)
	details := strings.TrimSpace(string(output))

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", apperr.New(apperr.KindConversion, opConvert,
			fmt.Sprintf("Conversion to %s timed out after %s", target, c.timeout), runCtx.Err()).
			WithDetails(details)
	}

	if err != nil {
		c.log.Error("%s conversion of %s failed: %v - output: %s", c.binary, inPath, err, details)

		return "", apperr.New(apperr.KindConversion, opConvert,
			fmt.Sprintf("Failed to convert DOCX to %s", target), err).WithDetails(details)
	}

	_, statErr := os.Stat(outPath)
	if statErr != nil {
		return "", apperr.New(apperr.KindConversion, opConvert,
			fmt.Sprintf("%s was not generated", target), statErr).WithDetails(details)
	}

	c.log.Info("Converted %s to %s in %s", filepath.Base(inPath), target, time.Since(start).Round(time.Millisecond))

	return outPath, nil
}
