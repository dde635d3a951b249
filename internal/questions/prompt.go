package questions

import (
	"fmt"
	"strings"

	"rfi-copilot/internal/ai"
	"rfi-copilot/internal/chunk"
)

const systemPrompt = `You analyse Request for Information (RFI) documents for a vendor bid team.
Find every question or requirement in the text you are given.

1. Explicit questions are direct interrogative queries: sentences ending in "?",
   sentences that start with What, How, When, Where, Which, Who, Why, or
   numbered queries.
2. Implicit requirements are imperative or declarative statements that demand a
   response from the vendor, such as "Vendor must...", "The supplier shall...",
   "Provide details about...", "Describe your...", "List all...".

For every match return an object with these fields:
  "question":        the question or requirement, verbatim or minimally reformatted
  "type":            "explicit" or "implicit"
  "confidence":      a number between 0 and 1, your certainty that this is a real question or requirement
  "answer":          a concise, professional draft answer written from the vendor's point of view
  "source_document": where in the text it was found, for example "paragraph 2" or "row 5"

Respond with ONLY a JSON array of such objects and no other text. If the text
contains no questions or requirements, respond with [].`

func buildMessages(ch chunk.Chunk, grounding []string) []ai.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n\n", ch.Citation())
	if len(grounding) > 0 {
		b.WriteString("Reference material from our knowledge base. Prefer it when drafting answers:\n")
		for i, s := range grounding {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, s)
		}
		b.WriteString("\n")
	}
	b.WriteString("Text to analyse:\n\"\"\"\n")
	b.WriteString(ch.Text)
	b.WriteString("\n\"\"\"")

	return []ai.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}
