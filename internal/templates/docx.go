package templates

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/book-expert/logger"

	"github.com/book-expert/media-jobs/internal/apperr"
)

const opRender = "render"

var (
	// Word splits a typed "{{ name }}" across runs; rejoin split braces first.
	splitOpenBraces  = regexp.MustCompile(`\{(?:<[^>]*>)+\{`)
	splitCloseBraces = regexp.MustCompile(`\}(?:<[^>]*>)+\}`)
	placeholder      = regexp.MustCompile(`(?s)\{\{(.*?)\}\}`)
	xmlTag           = regexp.MustCompile(`<[^>]*>`)
	bareIdentifier   = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_]*$`)
	renderedPart     = regexp.MustCompile(`^word/(document|header[0-9]*|footer[0-9]*)\.xml$`)

	entityDecoder = strings.NewReplacer("&quot;", `"`, "&apos;", "'", "&lt;", "<", "&gt;", ">", "&amp;", "&")
)

// DocxRenderer fills Jinja-style placeholders inside a DOCX template.
type DocxRenderer struct {
	log *logger.Logger
}

// NewDocxRenderer creates a renderer.
func NewDocxRenderer(log *logger.Logger) *DocxRenderer {
	return &DocxRenderer{log: log}
}

// Render writes the template at templatePath, filled with data, to outPath.
// Every key referenced by the template must be present in data.
func (r *DocxRenderer) Render(ctx context.Context, templatePath string, data map[string]any, outPath string) error {
	if err := ctx.Err(); err != nil {
		return apperr.New(apperr.KindRender, opRender, "render cancelled", err)
	}

	reader, err := zip.OpenReader(templatePath)
	if err != nil {
		return apperr.New(apperr.KindRender, opRender, "failed to open template as DOCX", err)
	}
	defer reader.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return apperr.New(apperr.KindRender, opRender, "failed to create output document", err)
	}

	renderErr := renderArchive(&reader.Reader, out, escapeValues(data))

	closeErr := out.Close()
	if renderErr == nil && closeErr != nil {
		renderErr = apperr.New(apperr.KindRender, opRender, "failed to write output document", closeErr)
	}

	if renderErr != nil {
		removeErr := os.Remove(outPath)
		if removeErr != nil {
			r.log.Warn("Failed to remove partial document '%s': %v", outPath, removeErr)
		}

		return renderErr
	}

	return nil
}

func renderArchive(reader *zip.Reader, out io.Writer, data map[string]any) error {
	writer := zip.NewWriter(out)

	for _, part := range reader.File {
		if !renderedPart.MatchString(part.Name) {
			err := writer.Copy(part)
			if err != nil {
				return apperr.New(apperr.KindRender, opRender, "failed to copy "+part.Name, err)
			}

			continue
		}

		err := renderPart(writer, part, data)
		if err != nil {
			return err
		}
	}

	err := writer.Close()
	if err != nil {
		return apperr.New(apperr.KindRender, opRender, "failed to finalize document", err)
	}

	return nil
}

func renderPart(writer *zip.Writer, part *zip.File, data map[string]any) error {
	src, err := part.Open()
	if err != nil {
		return apperr.New(apperr.KindRender, opRender, "failed to open "+part.Name, err)
	}

	content, err := io.ReadAll(src)
	_ = src.Close()

	if err != nil {
		return apperr.New(apperr.KindRender, opRender, "failed to read "+part.Name, err)
	}

	tmpl, err := template.New(part.Name).Option("missingkey=error").Parse(translate(string(content)))
	if err != nil {
		return apperr.New(apperr.KindRender, opRender, "invalid placeholder in "+part.Name, err)
	}

	var rendered bytes.Buffer

	err = tmpl.Execute(&rendered, data)
	if err != nil {
		return apperr.New(apperr.KindRender, opRender, "failed to render template", err)
	}

	dst, err := writer.CreateHeader(&zip.FileHeader{
		Name:     part.Name,
		Method:   zip.Deflate,
		Modified: part.Modified,
	})
	if err != nil {
		return apperr.New(apperr.KindRender, opRender, "failed to add "+part.Name, err)
	}

	_, err = dst.Write(rendered.Bytes())
	if err != nil {
		return apperr.New(apperr.KindRender, opRender, "failed to write "+part.Name, err)
	}

	return nil
}

// translate turns Word-mangled Jinja placeholders into text/template actions.
// "{{ texto }}" becomes "{{.texto}}"; other expressions pass through unchanged.
func translate(content string) string {
	content = splitOpenBraces.ReplaceAllString(content, "{{")
	content = splitCloseBraces.ReplaceAllString(content, "}}")

	return placeholder.ReplaceAllStringFunc(content, func(match string) string {
		expr := match[2 : len(match)-2]
		expr = strings.TrimSpace(entityDecoder.Replace(xmlTag.ReplaceAllString(expr, "")))

		if bareIdentifier.MatchString(expr) {
			return "{{." + expr + "}}"
		}

		return "{{" + expr + "}}"
	})
}

// escapeValues makes every value safe for inclusion in WordprocessingML text.
func escapeValues(data map[string]any) map[string]any {
	escaped := make(map[string]any, len(data))

	for key, value := range data {
		var buf bytes.Buffer

		_ = xml.EscapeText(&buf, []byte(formatValue(value)))
		escaped[key] = buf.String()
	}

	return escaped
}

// formatValue renders a scalar the way it was written in the request: numbers
// keep their literal digits and never switch to exponent notation.
func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return formatNumber(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	default:
		return fmt.Sprint(typed)
	}
}

func formatNumber(number json.Number) string {
	literal := number.String()
	if !strings.ContainsAny(literal, "eE") {
		return literal
	}

	parsed, err := number.Float64()
	if err != nil {
		return literal
	}

	return strconv.FormatFloat(parsed, 'f', -1, 64)
}
