package chunk

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfi-copilot/internal/extract"
)

// reassemble drops each chunk's overlap prefix and concatenates the rest.
func reassemble(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(string([]rune(c.Text)[c.Overlap:]))
	}
	return b.String()
}

func randomText(r *rand.Rand, words int) string {
	vocab := []string{"vendor", "must", "provide", "describe", "your", "SOC", "2", "policy", "données", "naïve", "retention?", "encryption."}
	var b strings.Builder
	for i := 0; i < words; i++ {
		if i > 0 {
			switch r.Intn(20) {
			case 0:
				b.WriteString("\n\n")
			case 1:
				b.WriteString("\n")
			default:
				b.WriteString(" ")
			}
		}
		b.WriteString(vocab[r.Intn(len(vocab))])
	}
	return b.String()
}

func TestSplit_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	chunkers := []Chunker{
		Default(),
		{Size: 1000, Overlap: 499, MinLength: 50},
		{Size: 120, Overlap: 30, MinLength: 20},
	}
	for _, c := range chunkers {
		for i := 0; i < 25; i++ {
			text := randomText(r, 50+r.Intn(2000))
			chunks, err := c.Split("rfi.docx", []extract.Unit{{Text: text}})
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			assert.Equal(t, text, reassemble(chunks))
			assert.Zero(t, chunks[0].Overlap)
			for j, ch := range chunks {
				n := utf8.RuneCountInString(ch.Text)
				assert.LessOrEqual(t, n, c.Size+c.MinLength)
				if j > 0 {
					assert.Equal(t, c.Overlap, ch.Overlap)
					prev := []rune(chunks[j-1].Text)
					assert.Equal(t, string(prev[len(prev)-c.Overlap:]), string([]rune(ch.Text)[:c.Overlap]))
				}
			}
		}
	}
}

func TestSplit_ShortUnitIsOneChunk(t *testing.T) {
	chunks, err := Default().Split("rfi.docx", []extract.Unit{{Text: "What is your data retention policy?"}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "What is your data retention policy?", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Overlap)
	assert.Equal(t, "rfi.docx", chunks[0].Citation())
}

func TestSplit_BoundaryPreference(t *testing.T) {
	c := Chunker{Size: 100, Overlap: 10, MinLength: 5}

	t.Run("paragraph", func(t *testing.T) {
		text := strings.Repeat("a", 55) + "\n" + strings.Repeat("a", 4) + "\n\n" + strings.Repeat("b", 60)
		chunks, err := c.Split("doc", []extract.Unit{{Text: text}})
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"))
		assert.Equal(t, 62, utf8.RuneCountInString(chunks[0].Text))
	})

	t.Run("line", func(t *testing.T) {
		text := strings.Repeat("a", 70) + "\n" + strings.Repeat("b c", 30)
		chunks, err := c.Split("doc", []extract.Unit{{Text: text}})
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("a", 70)+"\n", chunks[0].Text)
	})

	t.Run("word", func(t *testing.T) {
		text := strings.Repeat("word ", 50)
		chunks, err := c.Split("doc", []extract.Unit{{Text: text}})
		require.NoError(t, err)
		for _, ch := range chunks[:len(chunks)-1] {
			assert.True(t, strings.HasSuffix(ch.Text, " "), "chunk %q should end at a word boundary", ch.Text)
		}
	})

	t.Run("hard cut", func(t *testing.T) {
		chunks, err := c.Split("doc", []extract.Unit{{Text: strings.Repeat("x", 250)}})
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.Equal(t, 100, len(chunks[0].Text))
		assert.Equal(t, 100, len(chunks[1].Text))
		assert.Equal(t, 70, len(chunks[2].Text))
	})
}

func TestSplit_MergesShortRemainder(t *testing.T) {
	c := Chunker{Size: 100, Overlap: 10, MinLength: 20}
	chunks, err := c.Split("doc", []extract.Unit{{Text: strings.Repeat("x", 105)}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 105, len(chunks[0].Text))
}

func TestSplit_UnitsAndCitations(t *testing.T) {
	units := []extract.Unit{
		{Label: "Sheet: Pricing", Text: "Sheet: Pricing\nItem,Price\nLicense,100"},
		{Label: "Sheet: Notes", Text: "n/a"},
		{Label: "Sheet: Security", Text: "Sheet: Security\nRequirement\nMust support SSO"},
	}
	chunks, err := Default().Split("rfi.xlsx", units)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "rfi.xlsx (Sheet: Pricing)", chunks[0].Citation())
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, "rfi.xlsx (Sheet: Security)", chunks[1].Citation())
}

func TestSplit_Errors(t *testing.T) {
	_, err := Default().Split("doc", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	for _, c := range []Chunker{
		{Size: 0, Overlap: 0, MinLength: 1},
		{Size: 100, Overlap: 50, MinLength: 1},
		{Size: 100, Overlap: -1, MinLength: 1},
		{Size: 100, Overlap: 10, MinLength: 0},
	} {
		_, err := c.Split("doc", []extract.Unit{{Text: strings.Repeat("x", 200)}})
		assert.Error(t, err, "%+v", c)
	}
}

func TestCitation(t *testing.T) {
	assert.Equal(t, "Page 3", Chunk{Label: "Page 3"}.Citation())
	assert.Equal(t, "a.pdf (Page 3)", Chunk{Source: "a.pdf", Label: "Page 3"}.Citation())
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"Version 2.5 is current. Really?!", []string{"Version 2.5 is current.", "Really?!"}},
		{"No terminator", []string{"No terminator"}},
		{"Heading\n\nBody text here.", []string{"Heading", "Body text here."}},
		{"1. Describe your SOC 2 scope.", []string{"Describe your SOC 2 scope."}},
		{"Wait... what?  ...", []string{"Wait...", "what?"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitSentences(tt.in), "input %q", tt.in)
	}
}
