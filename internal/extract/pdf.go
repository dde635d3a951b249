package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

var disablePdfcpuConfig sync.Once

type pdfAdapter struct {
	logger *zap.Logger
}

// extract validates the file structure with pdfcpu first, so truncated or
// encrypted files fail with a clear message before text extraction runs.
func (a pdfAdapter) extract(ctx context.Context, ws *workspace, data []byte) (*Result, error) {
	path, err := ws.writeFile("document.pdf", data)
	if err != nil {
		return nil, err
	}

	disablePdfcpuConfig.Do(func() {
		// Keep pdfcpu from writing a config directory under $HOME.
		model.ConfigPath = "disable"
	})
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return nil, fmt.Errorf("%w: invalid pdf: %v", ErrExtractionFailure, err)
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrExtractionFailure, err)
	}
	defer f.Close()

	result := &Result{}
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(reader, i)
		if err != nil {
			a.logger.Warn("pdf page extraction failed", zap.Int("page", i), zap.Error(err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		result.Units = append(result.Units, Unit{Label: fmt.Sprintf("Page %d", i), Text: text})
	}
	return result, nil
}

func pageText(reader *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	page := reader.Page(num)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}
