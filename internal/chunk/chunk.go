// Package chunk splits extracted document text into bounded, overlapping
// segments sized for a single model call.
package chunk

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"rfi-copilot/internal/extract"
)

const (
	DefaultSize      = 1500
	DefaultOverlap   = 200
	DefaultMinLength = 20
)

var ErrEmptyInput = errors.New("no text units to chunk")

// Chunk is a span of one unit's text. The first Overlap runes of Text repeat
// the tail of the previous chunk from the same unit.
type Chunk struct {
	Index   int    `json:"index"`
	Source  string `json:"source"`
	Label   string `json:"label,omitempty"`
	Text    string `json:"text"`
	Overlap int    `json:"overlap"`
}

// Citation names where the chunk came from, for example
// "rfi.xlsx (Sheet: Security)".
func (c Chunk) Citation() string {
	if c.Label == "" {
		return c.Source
	}
	if c.Source == "" {
		return c.Label
	}
	return c.Source + " (" + c.Label + ")"
}

// Chunker sizes are measured in runes.
type Chunker struct {
	Size      int
	Overlap   int
	MinLength int
}

func Default() Chunker {
	return Chunker{Size: DefaultSize, Overlap: DefaultOverlap, MinLength: DefaultMinLength}
}

func (c Chunker) Validate() error {
	switch {
	case c.Size <= 0:
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	case c.Overlap < 0 || c.Overlap >= c.Size/2:
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.Size/2, c.Overlap)
	case c.MinLength < 1:
		return fmt.Errorf("minimum chunk length must be positive, got %d", c.MinLength)
	}
	return nil
}

// Split chunks every unit independently; overlap never crosses a unit
// boundary. Units whose trimmed text is shorter than MinLength are skipped.
func (c Chunker) Split(source string, units []extract.Unit) ([]Chunk, error) {
	if len(units) == 0 {
		return nil, ErrEmptyInput
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var chunks []Chunk
	for _, u := range units {
		if utf8.RuneCountInString(strings.TrimSpace(u.Text)) < c.MinLength {
			continue
		}
		for _, span := range c.spans([]rune(u.Text)) {
			chunks = append(chunks, Chunk{
				Index:   len(chunks),
				Source:  source,
				Label:   u.Label,
				Text:    span.text,
				Overlap: span.overlap,
			})
		}
	}
	return chunks, nil
}

type span struct {
	text    string
	overlap int
}

func (c Chunker) spans(runes []rune) []span {
	n := len(runes)
	if n <= c.Size {
		return []span{{text: string(runes)}}
	}

	var out []span
	start, overlap := 0, 0
	for {
		end := start + c.Size
		if end >= n {
			out = append(out, span{text: string(runes[start:]), overlap: overlap})
			return out
		}
		cut := c.breakPoint(runes, start, end)
		if n-cut < c.MinLength {
			out = append(out, span{text: string(runes[start:]), overlap: overlap})
			return out
		}
		out = append(out, span{text: string(runes[start:cut]), overlap: overlap})
		start = cut - c.Overlap
		overlap = c.Overlap
	}
}

// breakPoint returns the cut position in (start+Size/2, end], preferring a
// paragraph break, then a line break, then whitespace, then a hard cut.
func (c Chunker) breakPoint(runes []rune, start, end int) int {
	lo := start + c.Size/2
	if lo < start+1 {
		lo = start + 1
	}
	for i := end; i > lo; i-- {
		if runes[i-1] == '\n' && i-2 >= start && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > lo; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := end; i > lo; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
