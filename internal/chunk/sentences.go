package chunk

import (
	"strings"
	"unicode"
)

// SplitSentences splits content into sentence-like snippets. A run of
// terminal punctuation ends a sentence when followed by whitespace or the
// end of input, so "v2.5" stays whole; a blank line also ends one.
// Terminators are kept, snippets are trimmed and those without a letter
// (list markers, bare numbers) dropped.
func SplitSentences(content string) []string {
	runes := []rune(content)
	var out []string
	start := 0
	flush := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		start = end
		if strings.IndexFunc(s, unicode.IsLetter) >= 0 {
			out = append(out, s)
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			flush(i)
			continue
		}
		if !isTerminal(r) {
			continue
		}
		j := i
		for j+1 < len(runes) && isTerminal(runes[j+1]) {
			j++
		}
		if j+1 == len(runes) || unicode.IsSpace(runes[j+1]) {
			flush(j + 1)
		}
		i = j
	}
	flush(len(runes))
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
