package pipeline

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/docpilot/docpilot/internal/llm"
	"github.com/docpilot/docpilot/internal/query"
	"github.com/docpilot/docpilot/internal/retrieval"
	"github.com/docpilot/docpilot/internal/session"
	"github.com/docpilot/docpilot/internal/storage"
	"github.com/docpilot/docpilot/internal/synthesis"
	"github.com/docpilot/docpilot/internal/validation"
)

type stubAnalyzer struct {
	subs     []query.SubQuestion
	lastDocs []string
}

func (s *stubAnalyzer) Analyze(ctx context.Context, question string, documents []string, history []llm.Message) []query.SubQuestion {
	s.lastDocs = documents
	if s.subs != nil {
		return s.subs
	}
	return []query.SubQuestion{{
		Question: question, Type: query.TypeGeneral,
		Strategy: query.StrategySemantic, Filters: map[string]string{},
	}}
}

type stubRetriever struct {
	byQuestion map[string]retrieval.Result
}

func (s *stubRetriever) Execute(ctx context.Context, collection string, sub query.SubQuestion) retrieval.Result {
	if res, ok := s.byQuestion[sub.Question]; ok {
		res.Question = sub.Question
		res.Strategy = sub.Strategy
		return res
	}
	return retrieval.Result{Question: sub.Question, Strategy: sub.Strategy}
}

type stubGenerator struct {
	answers map[string]string
	err     error
}

func (s *stubGenerator) Chat(ctx context.Context, model string, messages []llm.Message, jsonSchema *llm.Schema) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	prompt := messages[len(messages)-1].Content
	for key, answer := range s.answers {
		if strings.Contains(prompt, key) {
			return answer, nil
		}
	}
	return "generated answer", nil
}

func newTestEngine(t *testing.T, analyzer Analyzer, retriever Retriever, generator Generator) (*Engine, *session.Tracker) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tracker := session.NewTracker(store)
	engine := NewEngine(analyzer, retriever, generator, validation.NewHeuristicJudge(), tracker, "test-model")
	return engine, tracker
}

func chunks(source string, n int) []retrieval.EvidenceChunk {
	out := make([]retrieval.EvidenceChunk, n)
	for i := range out {
		out[i] = retrieval.EvidenceChunk{Content: "chunk content", Source: source, Score: 0.9}
	}
	return out
}

func TestAnswerSingleQuestion(t *testing.T) {
	retriever := &stubRetriever{byQuestion: map[string]retrieval.Result{
		"who leads the team?": {Chunks: chunks("org.pdf", 3)},
	}}
	generator := &stubGenerator{answers: map[string]string{
		"who leads the team?": "Alice leads the team.",
	}}
	engine, tracker := newTestEngine(t, &stubAnalyzer{}, retriever, generator)
	tracker.Create("s1", "org.pdf", "col_s1", []string{"org.pdf"})

	outcome, err := engine.Answer(context.Background(), "s1", "who leads the team?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if outcome.Answer != "Alice leads the team." {
		t.Errorf("unexpected answer: %q", outcome.Answer)
	}
	if len(outcome.SubQuestions) != 1 {
		t.Errorf("expected 1 sub-question, got %d", len(outcome.SubQuestions))
	}
	if outcome.Validation.Confidence != validation.ConfidenceHigh {
		t.Errorf("expected high confidence, got %s", outcome.Validation.Confidence)
	}
}

func TestAnswerPassesSessionDocumentsToAnalyzer(t *testing.T) {
	analyzer := &stubAnalyzer{}
	engine, tracker := newTestEngine(t, analyzer, &stubRetriever{}, &stubGenerator{})
	tracker.Create("s1", "org.pdf", "col_s1", []string{"org.pdf"})
	tracker.AppendDocuments("s1", []string{"notes.md"})

	if _, err := engine.Answer(context.Background(), "s1", "a question"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	want := []string{"org.pdf", "notes.md"}
	if len(analyzer.lastDocs) != len(want) {
		t.Fatalf("analyzer saw %v, want %v", analyzer.lastDocs, want)
	}
	for i, doc := range want {
		if analyzer.lastDocs[i] != doc {
			t.Errorf("analyzer saw %v, want %v", analyzer.lastDocs, want)
			break
		}
	}
}

func TestAnswerRecordsConversationTurns(t *testing.T) {
	engine, tracker := newTestEngine(t, &stubAnalyzer{}, &stubRetriever{}, &stubGenerator{})
	tracker.Create("s1", "doc.pdf", "col_s1", []string{"doc.pdf"})

	if _, err := engine.Answer(context.Background(), "s1", "a question"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	messages := tracker.Messages("s1", 0)
	if len(messages) != 2 {
		t.Fatalf("expected user and assistant turns recorded, got %d", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content != "a question" {
		t.Errorf("unexpected first turn: %+v", messages[0])
	}
	if messages[1].Role != "assistant" {
		t.Errorf("unexpected second turn: %+v", messages[1])
	}
}

func TestAnswerUnknownSession(t *testing.T) {
	engine, _ := newTestEngine(t, &stubAnalyzer{}, &stubRetriever{}, &stubGenerator{})

	if _, err := engine.Answer(context.Background(), "missing", "question"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestAnswerDecomposedQuestion(t *testing.T) {
	analyzer := &stubAnalyzer{subs: []query.SubQuestion{
		{Question: "How many projects are listed?", Type: query.TypeCount, Strategy: query.StrategyExhaustive, Filters: map[string]string{}},
		{Question: "What is the overall timeline?", Type: query.TypeTimeline, Strategy: query.StrategySemantic, Filters: map[string]string{}},
	}}
	retriever := &stubRetriever{byQuestion: map[string]retrieval.Result{
		"How many projects are listed?": {Chunks: chunks("plan.pdf", 5)},
		"What is the overall timeline?": {Chunks: chunks("plan.pdf", 4)},
	}}
	generator := &stubGenerator{answers: map[string]string{
		"How many projects are listed?": "There are five projects.",
		"What is the overall timeline?": "The work spans Q1 through Q3.",
	}}
	engine, tracker := newTestEngine(t, analyzer, retriever, generator)
	tracker.Create("s1", "plan.pdf", "col_s1", []string{"plan.pdf"})

	outcome, err := engine.Answer(context.Background(), "s1",
		"How many projects are in the plan and what is the timeline?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	// Sub-answers must appear in decomposition order, blank-line joined.
	want := "There are five projects.\n\nThe work spans Q1 through Q3."
	if outcome.Answer != want {
		t.Errorf("expected ordered synthesis, got %q", outcome.Answer)
	}
	if outcome.Validation.NumChunks != 9 {
		t.Errorf("expected merged evidence of 9 chunks, got %d", outcome.Validation.NumChunks)
	}
}

func TestAnswerNoEvidenceGetsWarning(t *testing.T) {
	analyzer := &stubAnalyzer{subs: []query.SubQuestion{
		{Question: "how many offices are there?", Type: query.TypeCount, Strategy: query.StrategyExhaustive, Filters: map[string]string{}},
	}}
	engine, tracker := newTestEngine(t, analyzer, &stubRetriever{}, &stubGenerator{})
	tracker.Create("s1", "doc.pdf", "col_s1", []string{"doc.pdf"})

	outcome, err := engine.Answer(context.Background(), "s1", "how many offices are there?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	if !strings.Contains(outcome.Answer, synthesis.NotAvailableMessage) {
		t.Errorf("expected the canonical not-available message, got %q", outcome.Answer)
	}
	if outcome.Validation.IsComplete {
		t.Error("expected incomplete validation with no evidence")
	}
	if outcome.Validation.Warning == "" {
		t.Error("expected a warning appended for missing evidence")
	}
	if !strings.Contains(outcome.Answer, outcome.Validation.Warning) {
		t.Error("expected warning text appended to the answer")
	}
}

func TestAnswerGenerationFailureDegrades(t *testing.T) {
	retriever := &stubRetriever{byQuestion: map[string]retrieval.Result{
		"a question": {Chunks: chunks("doc.pdf", 3)},
	}}
	engine, tracker := newTestEngine(t, &stubAnalyzer{}, retriever, &stubGenerator{err: llm.ErrUnavailable})
	tracker.Create("s1", "doc.pdf", "col_s1", []string{"doc.pdf"})

	outcome, err := engine.Answer(context.Background(), "s1", "a question")
	if err != nil {
		t.Fatalf("expected degraded answer, not error: %v", err)
	}
	if !strings.Contains(outcome.Answer, synthesis.NotAvailableMessage) {
		t.Errorf("expected not-available fallback, got %q", outcome.Answer)
	}
}

func TestMergeEvidenceStrategy(t *testing.T) {
	exhaustive := query.SubQuestion{Strategy: query.StrategyExhaustive}
	semantic := query.SubQuestion{Strategy: query.StrategySemantic}

	merged := mergeEvidence(
		[]query.SubQuestion{exhaustive, exhaustive},
		[]retrieval.Result{{}, {}})
	if merged.Strategy != query.StrategyExhaustive {
		t.Errorf("all-exhaustive merge should be exhaustive, got %s", merged.Strategy)
	}

	merged = mergeEvidence(
		[]query.SubQuestion{exhaustive, semantic},
		[]retrieval.Result{{}, {}})
	if merged.Strategy != query.StrategySemantic {
		t.Errorf("mixed merge should be semantic, got %s", merged.Strategy)
	}
}

func TestBuildGenerationPromptBudget(t *testing.T) {
	big := strings.Repeat("x", 5000)
	evidence := retrieval.Result{Chunks: []retrieval.EvidenceChunk{
		{Content: big, Source: "a.pdf"},
		{Content: big, Source: "b.pdf"},
		{Content: big, Source: "c.pdf"},
		{Content: big, Source: "d.pdf"},
	}}

	messages := buildGenerationPrompt("the question", evidence)
	if len(messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(messages))
	}
	user := messages[1].Content
	if len(user) > contextTokenBudget*charsPerToken+len("Question: the question")+10 {
		t.Errorf("prompt exceeds context budget: %d chars", len(user))
	}
	if !strings.Contains(user, "the question") {
		t.Error("expected question included in prompt")
	}
	if !strings.Contains(user, "a.pdf") {
		t.Error("expected at least the first chunk included")
	}
}

func TestBuildGenerationPromptTruncatesOnRuneBoundary(t *testing.T) {
	evidence := retrieval.Result{Chunks: []retrieval.EvidenceChunk{
		{Content: strings.Repeat("ナレッジベース", 1000), Source: "doc.pdf"},
	}}

	messages := buildGenerationPrompt("the question", evidence)
	user := messages[1].Content
	if !utf8.ValidString(user) {
		t.Error("expected prompt truncation to land on a rune boundary")
	}
	if len(user) > contextTokenBudget*charsPerToken+len("Question: the question")+10 {
		t.Errorf("prompt exceeds context budget: %d chars", len(user))
	}
}
