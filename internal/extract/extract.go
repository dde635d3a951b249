// Package extract turns uploaded office documents into ordered plain-text
// units, one per logical page, sheet or document body.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"go.uber.org/zap"
)

const (
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaTypeDOC  = "application/msword"
	MediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaTypeXLS  = "application/vnd.ms-excel"
	MediaTypePDF  = "application/pdf"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtractionFailure = errors.New("extraction failed")
)

// Unit is one logical section of a document. Label is empty for single-body
// documents, "Page N" for PDFs and "Sheet: <name>" for spreadsheets.
type Unit struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Result holds the extracted units plus non-fatal problems, such as a sheet
// that could not be read, which callers must surface.
type Result struct {
	Units    []Unit   `json:"units"`
	Warnings []string `json:"warnings,omitempty"`
}

type adapter interface {
	extract(ctx context.Context, ws *workspace, data []byte) (*Result, error)
}

type Options struct {
	// TempDir is the parent of per-extraction scratch directories; empty
	// means os.TempDir().
	TempDir string
	Logger  *zap.Logger
}

type Extractor struct {
	adapters map[string]adapter
	tempDir  string
	logger   *zap.Logger
}

func New(opts Options) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	docx := docxAdapter{}
	xlsx := xlsxAdapter{logger: logger}
	return &Extractor{
		adapters: map[string]adapter{
			MediaTypeDOCX: docx,
			MediaTypeDOC:  legacyAdapter{ooxml: docx, kind: "Word", ext: ".docx"},
			MediaTypeXLSX: xlsx,
			MediaTypeXLS:  legacyAdapter{ooxml: xlsx, kind: "Excel", ext: ".xlsx"},
			MediaTypePDF:  pdfAdapter{logger: logger},
		},
		tempDir: opts.TempDir,
		logger:  logger,
	}
}

// SupportedMediaTypes lists the accepted media types in a stable order.
func SupportedMediaTypes() []string {
	return []string{MediaTypeDOCX, MediaTypeDOC, MediaTypeXLSX, MediaTypeXLS, MediaTypePDF}
}

// Supports reports whether mediaType has an adapter.
func Supports(mediaType string) bool {
	normalized := NormalizeMediaType(mediaType)
	for _, t := range SupportedMediaTypes() {
		if t == normalized {
			return true
		}
	}
	return false
}

func (e *Extractor) Supports(mediaType string) bool {
	_, ok := e.adapters[NormalizeMediaType(mediaType)]
	return ok
}

// Extract dispatches on the declared media type. Scratch files written by the
// adapters are removed before Extract returns, whatever the outcome.
func (e *Extractor) Extract(ctx context.Context, mediaType string, data []byte) (result *Result, err error) {
	normalized := NormalizeMediaType(mediaType)
	a, ok := e.adapters[normalized]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mediaType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrExtractionFailure)
	}

	ws := newWorkspace(e.tempDir)
	defer func() {
		if cleanupErr := ws.cleanup(); cleanupErr != nil {
			e.logger.Error("remove extraction workspace failed", zap.String("dir", ws.dir), zap.Error(cleanupErr))
		}
	}()
	defer func() {
		// Some format libraries panic on malformed input.
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: parser panic: %v", ErrExtractionFailure, r)
		}
	}()

	result, err = a.extract(ctx, ws, data)
	if err != nil {
		switch {
		case errors.Is(err, ErrExtractionFailure), errors.Is(err, ErrUnsupportedFormat):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Cancellation is not a property of the file.
		default:
			err = fmt.Errorf("%w: %w", ErrExtractionFailure, err)
		}
		return nil, err
	}

	units := result.Units[:0]
	for _, u := range result.Units {
		u.Text = strings.TrimSpace(u.Text)
		if u.Text != "" {
			units = append(units, u)
		}
	}
	result.Units = units
	if len(result.Units) == 0 {
		return nil, fmt.Errorf("%w: document contains no extractable text", ErrExtractionFailure)
	}
	for _, w := range result.Warnings {
		e.logger.Warn("extraction warning", zap.String("media_type", normalized), zap.String("warning", w))
	}
	return result, nil
}

// NormalizeMediaType lower-cases the type and strips parameters.
func NormalizeMediaType(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		return parsed
	}
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// PlainText joins units into one body, keeping unit labels as headings.
func PlainText(units []Unit) string {
	var b strings.Builder
	for i, u := range units {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if u.Label != "" && !strings.HasPrefix(u.Text, u.Label) {
			b.WriteString(u.Label)
			b.WriteString("\n")
		}
		b.WriteString(u.Text)
	}
	return b.String()
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// legacyAdapter handles the legacy media types. Browsers and mail clients
// often label OOXML files with the legacy type, so zip payloads go to the
// OOXML adapter; genuine OLE2 binaries are rejected with a conversion hint.
type legacyAdapter struct {
	ooxml adapter
	kind  string
	ext   string
}

func (a legacyAdapter) extract(ctx context.Context, ws *workspace, data []byte) (*Result, error) {
	switch {
	case hasPrefix(data, zipMagic):
		return a.ooxml.extract(ctx, ws, data)
	case hasPrefix(data, oleMagic):
		return nil, fmt.Errorf("%w: legacy binary %s files are not supported, save the file as %s and upload it again", ErrExtractionFailure, a.kind, a.ext)
	default:
		return nil, fmt.Errorf("%w: payload is not a %s document", ErrExtractionFailure, a.kind)
	}
}

func hasPrefix(data, prefix []byte) bool {
	return len(data) >= len(prefix) && string(data[:len(prefix)]) == string(prefix)
}
