package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docpilot/docpilot/internal/llm"
	"github.com/docpilot/docpilot/internal/query"
	"github.com/docpilot/docpilot/internal/retrieval"
	"github.com/docpilot/docpilot/internal/session"
	"github.com/docpilot/docpilot/internal/storage"
	"github.com/docpilot/docpilot/internal/synthesis"
	"github.com/docpilot/docpilot/internal/validation"
)

// historyWindow is how many recent turns feed the analyzer for pronoun
// resolution.
const historyWindow = 6

// Analyzer decomposes a question into sub-questions, grounded on the
// documents currently in the session's scope.
type Analyzer interface {
	Analyze(ctx context.Context, question string, documents []string, history []llm.Message) []query.SubQuestion
}

// Retriever gathers evidence for one sub-question.
type Retriever interface {
	Execute(ctx context.Context, collection string, sub query.SubQuestion) retrieval.Result
}

// Generator produces free-text completions.
type Generator interface {
	Chat(ctx context.Context, model string, messages []llm.Message, jsonSchema *llm.Schema) (string, error)
}

// Outcome is the result of one question-answer cycle.
type Outcome struct {
	Answer       string              `json:"answer"`
	SubQuestions []query.SubQuestion `json:"sub_questions"`
	Validation   validation.Result   `json:"validation"`
	Elapsed      time.Duration       `json:"-"`
}

// Engine orchestrates a full question-answer cycle: decompose, retrieve
// in parallel, generate per sub-question, synthesize, validate, record.
type Engine struct {
	analyzer  Analyzer
	retriever Retriever
	generator Generator
	validator validation.Validator
	tracker   *session.Tracker
	chatModel string
}

func NewEngine(analyzer Analyzer, retriever Retriever, generator Generator, validator validation.Validator, tracker *session.Tracker, chatModel string) *Engine {
	return &Engine{
		analyzer:  analyzer,
		retriever: retriever,
		generator: generator,
		validator: validator,
		tracker:   tracker,
		chatModel: chatModel,
	}
}

// Answer runs the pipeline for a question within a session. Nothing is
// persisted until the full answer is produced, so a cancelled cycle
// leaves no partial state behind.
func (e *Engine) Answer(ctx context.Context, sessionID, question string) (Outcome, error) {
	start := time.Now()

	sess, ok := e.tracker.Get(sessionID)
	if !ok {
		return Outcome{}, fmt.Errorf("session %s not found", sessionID)
	}

	history := historyMessages(e.tracker.Recent(sessionID, historyWindow))
	subs := e.analyzer.Analyze(ctx, question, sess.Documents, history)

	results := e.retrieveAll(ctx, sess.CollectionName, subs)

	subAnswers := make([]synthesis.SubAnswer, len(subs))
	for i, sub := range subs {
		subAnswers[i] = synthesis.SubAnswer{
			Question: sub.Question,
			Answer:   e.generate(ctx, sub.Question, results[i]),
			Evidence: results[i],
		}
	}

	answer := synthesis.Synthesize(subAnswers)

	verdict := e.validator.Validate(ctx, question, answer, mergeEvidence(subs, results))
	final := validation.AppendWarning(answer, verdict)

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	e.tracker.AddMessage(sessionID, "user", question)
	e.tracker.AddMessage(sessionID, "assistant", final)

	elapsed := time.Since(start)
	slog.Info("question answered",
		"session_id", sessionID,
		"sub_questions", len(subs),
		"chunks", verdict.NumChunks,
		"confidence", verdict.Confidence,
		"elapsed", elapsed)

	return Outcome{
		Answer:       final,
		SubQuestions: subs,
		Validation:   verdict,
		Elapsed:      elapsed,
	}, nil
}

// retrieveAll fans retrieval out across sub-questions. Results land in
// decomposition order regardless of completion order, so synthesis
// stays traceable to the original split.
func (e *Engine) retrieveAll(ctx context.Context, collection string, subs []query.SubQuestion) []retrieval.Result {
	results := make([]retrieval.Result, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			results[i] = e.retriever.Execute(gctx, collection, sub)
			return nil
		})
	}
	// Execute never returns errors, it degrades to empty results.
	_ = g.Wait()

	return results
}

// generate answers one sub-question from its evidence. A generation
// failure degrades to a "not available" sub-answer that synthesis knows
// how to fold away.
func (e *Engine) generate(ctx context.Context, question string, evidence retrieval.Result) string {
	if len(evidence.Chunks) == 0 {
		return synthesis.NotAvailableMessage
	}

	messages := buildGenerationPrompt(question, evidence)
	answer, err := e.generator.Chat(ctx, e.chatModel, messages, nil)
	if err != nil {
		slog.Warn("answer generation failed", "question", question, "error", err)
		return synthesis.NotAvailableMessage
	}
	return answer
}

// mergeEvidence flattens all sub-question evidence for validation. The
// merged strategy is exhaustive only when every sub-question used an
// exhaustive scan, since the lower exhaustive chunk threshold is only
// safe when no semantic sampling was involved.
func mergeEvidence(subs []query.SubQuestion, results []retrieval.Result) retrieval.Result {
	merged := retrieval.Result{Strategy: query.StrategySemantic}

	allExhaustive := len(subs) > 0
	for i, res := range results {
		merged.Chunks = append(merged.Chunks, res.Chunks...)
		if subs[i].Strategy != query.StrategyExhaustive {
			allExhaustive = false
		}
	}
	if allExhaustive {
		merged.Strategy = query.StrategyExhaustive
	}
	return merged
}

func historyMessages(turns []storage.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	return messages
}
