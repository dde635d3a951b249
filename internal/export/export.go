// Package export renders question sets as CSV or Excel workbooks.
package export

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"

	"rfi-copilot/internal/model"
)

var Header = []string{"Question", "Type", "Confidence", "Answer", "Source Document"}

const sheetName = "Questions"

// FormatConfidence renders a [0,1] confidence as a percentage with one
// decimal. NaN and infinities render as 0.0%.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.1f%%", clean(c)*100)
}

func clean(c float64) float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return c
}

func row(q model.Question) []string {
	return []string{q.Text, q.Type, FormatConfidence(q.Confidence), q.Answer, q.SourceDocument}
}

// WriteCSV writes every field quoted, with embedded quotes doubled. Output
// depends only on the input, so equal inputs give byte-identical files.
func WriteCSV(w io.Writer, qs []model.Question) error {
	bw := bufio.NewWriter(w)
	writeRecord(bw, Header)
	for _, q := range qs {
		writeRecord(bw, row(q))
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write csv failed: %w", err)
	}
	return nil
}

func writeRecord(w *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(f, `"`, `""`))
		w.WriteByte('"')
	}
	w.WriteByte('\n')
}

// WriteXLSX writes one sheet with the CSV columns. Confidence is stored as a
// number formatted as a percentage.
func WriteXLSX(w io.Writer, qs []model.Question) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet failed: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style failed: %w", err)
	}
	pctFmt := "0.0%"
	pct, err := f.NewStyle(&excelize.Style{CustomNumFmt: &pctFmt})
	if err != nil {
		return fmt.Errorf("create percent style failed: %w", err)
	}

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("open stream writer failed: %w", err)
	}
	for col, width := range []float64{60, 12, 12, 80, 40} {
		if err := sw.SetColWidth(col+1, col+1, width); err != nil {
			return fmt.Errorf("set column width failed: %w", err)
		}
	}

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header row failed: %w", err)
	}

	for i, q := range qs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{
			q.Text,
			q.Type,
			excelize.Cell{StyleID: pct, Value: clean(q.Confidence)},
			q.Answer,
			q.SourceDocument,
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("write row %d failed: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet failed: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook failed: %w", err)
	}
	return nil
}
