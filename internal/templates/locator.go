// Package templates locates and renders document templates.
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/media-jobs/internal/apperr"
	"github.com/book-expert/media-jobs/internal/validate"
)

const opLocate = "locate_template"

// Locator resolves template names inside a single flat directory.
type Locator struct {
	dir string
}

// NewLocator creates a locator rooted at dir.
func NewLocator(dir string) (*Locator, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve templates directory '%s': %w", dir, err)
	}

	return &Locator{dir: absDir}, nil
}

// Dir returns the absolute template directory.
func (l *Locator) Dir() string {
	return l.dir
}

// Locate returns the path of the named template. Names that could escape the
// directory are a validation error; unknown names are not found.
func (l *Locator) Locate(name string) (string, error) {
	if !validate.FlatName(name) {
		return "", apperr.Validation("invalid template_name")
	}

	templatePath := filepath.Join(l.dir, name)
	if !strings.HasPrefix(templatePath, l.dir+string(filepath.Separator)) {
		return "", apperr.Validation("invalid template_name")
	}

	info, err := os.Stat(templatePath)
	if err != nil || info.IsDir() {
		return "", apperr.NotFound(opLocate, fmt.Sprintf("Template %s not found", name))
	}

	return templatePath, nil
}
