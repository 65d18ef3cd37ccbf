package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docpilot/docpilot/internal/llm"
	"github.com/docpilot/docpilot/internal/retrieval"
)

// contextTokenBudget caps how much evidence text goes into a generation
// prompt. Token counts are approximated at 4 characters per token, which
// is close enough for budget purposes on English text.
const (
	contextTokenBudget = 3000
	charsPerToken      = 4
)

const generationSystemPrompt = `You are a document question-answering assistant. Answer the question using ONLY the provided document excerpts. Rules:
- If the excerpts do not contain the answer, say the information is not available in the documents. Do not guess.
- Cite the source document name when it matters.
- Be direct and concise.`

// buildGenerationPrompt assembles chat messages for answering one
// sub-question from its evidence, trimming chunks to fit the context
// budget.
func buildGenerationPrompt(question string, evidence retrieval.Result) []llm.Message {
	var sb strings.Builder
	sb.WriteString("Document excerpts:\n\n")

	budget := contextTokenBudget * charsPerToken
	used := sb.Len()
	for i, chunk := range evidence.Chunks {
		entry := fmt.Sprintf("[%s]\n%s\n\n", chunk.Source, chunk.Content)
		if used+len(entry) > budget {
			// Always include at least one chunk, truncated if needed.
			// The cut backs up to a rune boundary so the prompt never
			// ends in a split multibyte character.
			if i == 0 {
				cut := budget - used
				for cut > 0 && !utf8.RuneStart(entry[cut]) {
					cut--
				}
				sb.WriteString(entry[:cut])
			}
			break
		}
		sb.WriteString(entry)
		used += len(entry)
	}

	fmt.Fprintf(&sb, "Question: %s", question)

	return []llm.Message{
		{Role: "system", Content: generationSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}
