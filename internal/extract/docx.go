package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

type docxAdapter struct{}

func (docxAdapter) extract(_ context.Context, _ *workspace, data []byte) (*Result, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid docx archive: %v", ErrExtractionFailure, err)
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open word/document.xml: %v", ErrExtractionFailure, err)
		}
		text, err := parseDocumentXML(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: parse word/document.xml: %v", ErrExtractionFailure, err)
		}
		return &Result{Units: []Unit{{Text: text}}}, nil
	}
	return nil, fmt.Errorf("%w: docx archive has no word/document.xml", ErrExtractionFailure)
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// table tracks the row being built for one level of (possibly nested) table.
type table struct {
	row    []string
	cell   []string
	inCell bool
}

// parseDocumentXML streams word/document.xml and returns its text with one
// line per paragraph. Table cells are tab separated, one row per line; a
// table nested in a cell is flattened into that cell's text.
func parseDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		lines  []string
		para   strings.Builder
		tables []*table
		inText bool
		inRun  int
	)
	top := func() *table {
		if len(tables) == 0 {
			return nil
		}
		return tables[len(tables)-1]
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "r":
				inRun++
			case "t":
				inText = true
			case "tab":
				// w:tab also appears in paragraph properties as a tab stop.
				if inRun > 0 {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if inRun > 0 {
					para.WriteByte('\n')
				}
			case "tbl":
				tables = append(tables, &table{})
			case "tr":
				if tb := top(); tb != nil {
					tb.row = nil
				}
			case "tc":
				if tb := top(); tb != nil {
					tb.cell = nil
					tb.inCell = true
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				if inRun > 0 {
					inRun--
				}
			case "t":
				inText = false
			case "p":
				line := strings.TrimRight(para.String(), " \t")
				para.Reset()
				if tb := top(); tb != nil && tb.inCell {
					if line != "" {
						tb.cell = append(tb.cell, line)
					}
				} else {
					lines = append(lines, line)
				}
			case "tc":
				if tb := top(); tb != nil {
					tb.row = append(tb.row, strings.Join(tb.cell, " "))
					tb.cell = nil
					tb.inCell = false
				}
			case "tr":
				tb := top()
				if tb == nil || strings.TrimSpace(strings.Join(tb.row, "")) == "" {
					continue
				}
				if len(tables) > 1 && tables[len(tables)-2].inCell {
					parent := tables[len(tables)-2]
					parent.cell = append(parent.cell, strings.Join(tb.row, " "))
				} else {
					lines = append(lines, strings.Join(tb.row, "\t"))
				}
				tb.row = nil
			case "tbl":
				if len(tables) > 0 {
					tables = tables[:len(tables)-1]
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}

	text := strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}
