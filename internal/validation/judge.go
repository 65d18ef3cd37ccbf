package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docpilot/docpilot/internal/llm"
	"github.com/docpilot/docpilot/internal/retrieval"
)

const (
	judgeTimeout = 30 * time.Second

	// sampleChunks bounds how much evidence text goes into the judge
	// prompt; the counts carry the completeness signal, the sample only
	// grounds the reasoning.
	sampleChunks    = 3
	sampleChunkSize = 300
)

const judgeSystemPrompt = `You are an answer quality judge for a document question-answering system. Given a question, the generated answer, and a summary of the retrieved evidence, assess whether the answer is complete. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- is_complete is false if the evidence looks insufficient to fully answer the question.
- confidence is one of: "high", "medium", "low".
- missing_aspects lists concrete parts of the question the answer did not cover.
- warning, if set, is a single short user-facing sentence; leave it empty when the answer looks complete.`

// judgeVerdict is the raw structured output from the judge model.
type judgeVerdict struct {
	IsComplete     bool     `json:"is_complete"`
	Confidence     string   `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	MissingAspects []string `json:"missing_aspects"`
	Warning        string   `json:"warning"`
}

// Chatter is the slice of the LLM client the judge needs.
type Chatter interface {
	ChatStructured(ctx context.Context, model string, messages []llm.Message, schema *llm.Schema, out any) error
}

// ModelJudge validates answers by asking a language model for a verdict,
// falling back to heuristic checks when the model is unavailable or
// returns garbage. Both paths satisfy the same Validator contract.
type ModelJudge struct {
	client   Chatter
	model    string
	fallback *HeuristicJudge
}

func NewModelJudge(client Chatter, model string) *ModelJudge {
	return &ModelJudge{client: client, model: model, fallback: NewHeuristicJudge()}
}

// Validate asks the judge model for a verdict on the answer.
func (j *ModelJudge) Validate(ctx context.Context, question, answer string, evidence retrieval.Result) Result {
	jctx, cancel := context.WithTimeout(ctx, judgeTimeout)
	defer cancel()

	numChunks := len(evidence.Chunks)
	numDocs := evidence.Documents()

	messages := []llm.Message{
		{Role: "system", Content: judgeSystemPrompt},
		{Role: "user", Content: buildJudgePrompt(question, answer, evidence)},
	}

	var verdict judgeVerdict
	if err := j.client.ChatStructured(jctx, j.model, messages, judgeSchema(), &verdict); err != nil {
		slog.Warn("judge model failed, falling back to heuristic validation", "error", err)
		return j.fallback.Validate(ctx, question, answer, evidence)
	}

	confidence := Confidence(verdict.Confidence)
	switch confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		slog.Warn("judge returned unknown confidence, falling back to heuristic validation",
			"confidence", verdict.Confidence)
		return j.fallback.Validate(ctx, question, answer, evidence)
	}

	return Result{
		IsComplete:     verdict.IsComplete,
		Confidence:     confidence,
		Warning:        strings.TrimSpace(verdict.Warning),
		Reasoning:      verdict.Reasoning,
		MissingAspects: verdict.MissingAspects,
		NumChunks:      numChunks,
		NumDocuments:   numDocs,
	}
}

func buildJudgePrompt(question, answer string, evidence retrieval.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nAnswer: %s\n\n", question, answer)
	fmt.Fprintf(&sb, "Evidence: %d chunks from %d distinct documents.\n",
		len(evidence.Chunks), evidence.Documents())

	if len(evidence.Chunks) > 0 {
		sb.WriteString("\nEvidence sample:\n")
		for i, chunk := range evidence.Chunks {
			if i == sampleChunks {
				break
			}
			content := chunk.Content
			if len(content) > sampleChunkSize {
				content = content[:sampleChunkSize] + "..."
			}
			fmt.Fprintf(&sb, "[%s] %s\n", chunk.Source, content)
		}
	}
	return sb.String()
}

func judgeSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"is_complete":     {Type: "boolean", Description: "Whether the answer fully addresses the question"},
			"confidence":      {Type: "string", Description: "One of: high, medium, low"},
			"reasoning":       {Type: "string", Description: "Short explanation of the verdict"},
			"missing_aspects": {Type: "array", Description: "Parts of the question the answer did not cover", Items: &llm.SchemaProperty{Type: "string"}},
			"warning":         {Type: "string", Description: "Optional single-sentence user-facing caveat"},
		},
		Required: []string{"is_complete", "confidence", "reasoning"},
	}
}
