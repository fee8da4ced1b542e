package speech

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnknownModel indicates a model size outside the catalog.
var ErrUnknownModel = errors.New("unknown whisper model")

// whisperModels maps a model size to its ggml file name. Bigger models load slower
// and use more memory in exchange for accuracy.
var whisperModels = map[string]string{
	"tiny":           "ggml-tiny.bin",
	"tiny.en":        "ggml-tiny.en.bin",
	"base":           "ggml-base.bin",
	"base.en":        "ggml-base.en.bin",
	"small":          "ggml-small.bin",
	"small.en":       "ggml-small.en.bin",
	"medium":         "ggml-medium.bin",
	"medium.en":      "ggml-medium.en.bin",
	"large":          "ggml-large-v3.bin",
	"large-v2":       "ggml-large-v2.bin",
	"large-v3":       "ggml-large-v3.bin",
	"large-v3-turbo": "ggml-large-v3-turbo.bin",
}

// ModelNames returns the supported model sizes in sorted order.
func ModelNames() []string {
	names := make([]string, 0, len(whisperModels))
	for name := range whisperModels {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ModelFile returns the ggml file name for a size.
func ModelFile(name string) (string, error) {
	file, ok := whisperModels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: '%s' (supported: %s)", ErrUnknownModel, name, strings.Join(ModelNames(), ", "))
	}

	return file, nil
}

// ResolveModelPath finds the model file for name inside modelDir.
func ResolveModelPath(modelDir, name string) (string, error) {
	file, err := ModelFile(name)
	if err != nil {
		return "", err
	}

	modelPath := filepath.Join(modelDir, file)

	info, err := os.Stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model file '%s': %w", modelPath, err)
	}

	if info.IsDir() {
		return "", fmt.Errorf("model path '%s' is a directory", modelPath)
	}

	return modelPath, nil
}
