package query

import (
	"fmt"
	"strings"

	"github.com/docpilot/docpilot/internal/llm"
)

const systemPromptTemplate = `You are a query analysis engine for a document question-answering system. Decompose the user's query into focused sub-questions. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

For each sub-question choose:
- "type": the kind of answer expected
  - "count": asks how many of something exist
  - "list": asks to enumerate items
  - "timeline": asks about dates, ordering, or history
  - "general": everything else
- "strategy": how to gather evidence
  - "exhaustive": the answer requires seeing ALL matching content (counting, complete lists)
  - "semantic": a handful of relevant passages suffices

Rules:
- A simple single-topic query becomes exactly one sub-question.
- Split compound queries ("X and Y") into one sub-question per part.
- Counting and complete-enumeration questions must use "exhaustive".
- If the query targets one specific document, set filters to {"source": "<filename>"} using a filename from the available documents list exactly as written.
- Never use a filename that is not in the available documents list.
- Never invent sub-questions the user did not ask.`

// BuildPrompt constructs the chat messages for query decomposition.
// The available document names ground source filters; recent history
// lets the model resolve pronouns and follow-ups.
func BuildPrompt(query string, documents []string, history []llm.Message) []llm.Message {
	system := systemPromptTemplate
	if len(documents) > 0 {
		system += fmt.Sprintf("\n\nAvailable documents:\n- %s", strings.Join(documents, "\n- "))
	}

	messages := []llm.Message{
		{Role: "system", Content: system},
	}

	messages = append(messages, history...)

	messages = append(messages, llm.Message{
		Role:    "user",
		Content: query,
	})

	return messages
}
