package questions

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"rfi-copilot/internal/chunk"
	"rfi-copilot/internal/model"
)

const noGroundingAnswer = "No matching knowledge base content was found. A bid team member must draft this answer."

var (
	listMarker = regexp.MustCompile(`^(?:[-*•]+|\(?\d+(?:\.\d+)*[.)]?|\(?[a-zA-Z][.)]|[Qq]\d+[:.)]?)\s+`)
	modal      = regexp.MustCompile(`(?i)\b(must|shall|should|(?:is|are|will be) required to)\b`)

	interrogatives = wordSet("what", "how", "when", "where", "which", "who", "whom", "whose", "why",
		"is", "are", "do", "does", "did", "can", "could", "will", "would", "have", "has")
	imperatives = wordSet("provide", "describe", "explain", "list", "detail", "outline", "specify",
		"submit", "include", "identify", "confirm", "state", "indicate", "demonstrate", "attach", "summarize", "summarise")
)

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// RuleClassifier detects questions with lexical heuristics. It needs no
// oracle; answers come from the knowledge base when a Retriever is set.
type RuleClassifier struct {
	retriever Retriever
	topK      int
	minLength int
}

func NewRuleClassifier(retriever Retriever, topK int) *RuleClassifier {
	if topK <= 0 {
		topK = 2
	}
	return &RuleClassifier{retriever: retriever, topK: topK, minLength: 10}
}

func (c *RuleClassifier) Classify(ctx context.Context, ch chunk.Chunk) ([]ProcessedQuestion, error) {
	citation := ch.Citation()
	if citation == "" {
		citation = fmt.Sprintf("chunk %d", ch.Index)
	}

	var out []ProcessedQuestion
	seen := make(map[string]struct{})
	for _, line := range strings.Split(ch.Text, "\n") {
		for _, sentence := range chunk.SplitSentences(line) {
			text := cleanSentence(sentence)
			if len(text) < c.minLength {
				continue
			}
			kind, confidence, ok := detect(text)
			if !ok {
				continue
			}
			key := strings.ToLower(text)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			answer, err := c.draft(ctx, text)
			if err != nil {
				return nil, err
			}
			out = append(out, ProcessedQuestion{
				Text:           text,
				Type:           kind,
				Confidence:     confidence,
				Answer:         answer,
				SourceDocument: citation,
				ChunkIndex:     ch.Index,
			})
		}
	}
	return out, nil
}

func cleanSentence(s string) string {
	s = strings.Trim(s, "\"' ,;\t")
	s = listMarker.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// detect returns the question type and a fixed confidence for the rule that
// matched.
func detect(text string) (string, float64, bool) {
	first := strings.ToLower(strings.Trim(strings.Fields(text)[0], ",:;"))
	switch {
	case strings.HasSuffix(text, "?"):
		return model.QuestionTypeExplicit, 0.9, true
	case isIn(interrogatives, first) && len(strings.Fields(text)) >= 3:
		return model.QuestionTypeExplicit, 0.6, true
	case isIn(imperatives, first):
		return model.QuestionTypeImplicit, 0.8, true
	case modal.MatchString(text):
		return model.QuestionTypeImplicit, 0.7, true
	}
	return "", 0, false
}

func isIn(set map[string]struct{}, word string) bool {
	_, ok := set[word]
	return ok
}

func (c *RuleClassifier) draft(ctx context.Context, text string) (string, error) {
	if c.retriever == nil {
		return noGroundingAnswer, nil
	}
	snippets, err := c.retriever.Snippets(ctx, text, c.topK)
	if err != nil {
		return "", fmt.Errorf("knowledge base lookup failed: %w", err)
	}
	if len(snippets) == 0 {
		return noGroundingAnswer, nil
	}
	return strings.Join(snippets, " "), nil
}
