package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type xlsxAdapter struct {
	logger *zap.Logger
}

// extract emits one unit per non-empty sheet. The unit text starts with a
// "Sheet: <name>" heading followed by the rows as CSV. A sheet that fails to
// read is reported as a warning and skipped.
func (a xlsxAdapter) extract(ctx context.Context, ws *workspace, data []byte) (*Result, error) {
	path, err := ws.writeFile("workbook.xlsx", data)
	if err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrExtractionFailure, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			a.logger.Warn("close workbook failed", zap.Error(err))
		}
	}()

	result := &Result{}
	for _, name := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(name)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("sheet %q: %v", name, err))
			continue
		}
		body, err := rowsToCSV(rows)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("sheet %q: %v", name, err))
			continue
		}
		if body == "" {
			continue
		}
		label := "Sheet: " + name
		result.Units = append(result.Units, Unit{Label: label, Text: label + "\n" + body})
	}
	return result, nil
}

// rowsToCSV drops blank rows and trailing empty cells. The first remaining
// row is the header.
func rowsToCSV(rows [][]string) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	for _, row := range rows {
		end := len(row)
		for end > 0 && strings.TrimSpace(row[end-1]) == "" {
			end--
		}
		if end == 0 {
			continue
		}
		cells := make([]string, end)
		for i := 0; i < end; i++ {
			cells[i] = strings.TrimSpace(row[i])
		}
		if err := w.Write(cells); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
