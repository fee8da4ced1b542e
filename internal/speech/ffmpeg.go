package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const normalizedFileName = "normalized-16k-mono.wav"

// Normalizer converts compressed voice audio (Opus in Ogg, mp3, m4a, ...) into the
// 16 kHz mono PCM WAV that whisper.cpp expects.
type Normalizer struct {
	ffmpegPath string
	workDir    string
	runner     CommandRunner
}

// NewNormalizer creates a normalizer using the given ffmpeg binary.
func NewNormalizer(ffmpegPath, workDir string, runner CommandRunner) *Normalizer {
	if runner == nil {
		runner = ExecRunner{}
	}

	return &Normalizer{
		ffmpegPath: ffmpegPath,
		workDir:    workDir,
		runner:     runner,
	}
}

// Normalize writes the converted audio into a fresh temp directory and returns its
// path together with a cleanup func that removes the directory.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (string, func(), error) {
	tempDir, err := os.MkdirTemp(n.workDir, "speech-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp workspace: %w", err)
	}

	cleanup := func() { _ = os.RemoveAll(tempDir) }
	outPath := filepath.Join(tempDir, normalizedFileName)

	result, err := n.runner.Run(ctx, n.ffmpegPath, buildFFmpegArgs(inputPath, outPath)...)
	if err != nil {
		cleanup()

		return "", nil, fmt.Errorf("ffmpeg audio conversion failed (exit %d): %w - stderr: %s",
			result.ExitCode, err, result.Stderr)
	}

	_, statErr := os.Stat(outPath)
	if statErr != nil {
		cleanup()

		return "", nil, fmt.Errorf("ffmpeg completed but output file is missing: %w", statErr)
	}

	return outPath, cleanup, nil
}

func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}
