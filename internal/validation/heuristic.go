package validation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/docpilot/docpilot/internal/query"
	"github.com/docpilot/docpilot/internal/retrieval"
)

// Evidence-count thresholds below which an answer looks under-supported.
// Exhaustive scans return fewer, already-complete items, so their
// threshold is lower.
const (
	semanticChunkThreshold   = 3
	exhaustiveChunkThreshold = 2
)

// countingPatterns recognize questions where silent under-retrieval is
// most damaging: the answer claims a total the evidence may not cover.
var countingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bhow many\b`),
	regexp.MustCompile(`(?i)\bnumber of\b`),
	regexp.MustCompile(`(?i)\bcount\b`),
	regexp.MustCompile(`(?i)\btotal\b`),
	regexp.MustCompile(`(?i)\blist (?:all|the|every)\b`),
	regexp.MustCompile(`(?i)\bwhat are (?:all|the)\b`),
	regexp.MustCompile(`(?i)\benumerate\b`),
}

// uncertaintyIndicators are hedging phrases generation models emit when
// the evidence is thin.
var uncertaintyIndicators = []string{
	"may not be complete",
	"might be",
	"not sure",
	"unclear",
	"possibly",
	"it seems",
	"appears to",
	"i cannot determine",
	"hard to say",
}

// multiDocumentWords signal that the question compares across documents.
var multiDocumentWords = []string{"both", "all", "multiple", "each", "every"}

// HeuristicJudge validates answers with pure, stateless checks over the
// evidence and the answer text. It never calls an external model, so it
// serves as the fallback when the judge model is unavailable.
type HeuristicJudge struct{}

func NewHeuristicJudge() *HeuristicJudge {
	return &HeuristicJudge{}
}

// Validate applies completeness checks in increasing order of severity,
// so a stronger signal overrides the verdict of a weaker one. Confidence
// only ever moves downward.
func (h *HeuristicJudge) Validate(_ context.Context, question, answer string, evidence retrieval.Result) Result {
	result := Result{
		IsComplete:   true,
		Confidence:   ConfidenceHigh,
		Reasoning:    "heuristic validation",
		NumChunks:    len(evidence.Chunks),
		NumDocuments: evidence.Documents(),
	}

	if !isCountingLike(question) {
		result.Reasoning = "not a counting or listing question, completeness checks skipped"
		return result
	}

	if result.NumChunks == 0 {
		result.IsComplete = false
		result.Confidence = ConfidenceLow
		result.Warning = "Note: no relevant context was found in the documents, so this answer may be incomplete."
		result.Reasoning = "no evidence chunks retrieved"
		result.MissingAspects = []string{"supporting evidence"}
		return result
	}

	threshold := semanticChunkThreshold
	if evidence.Strategy == query.StrategyExhaustive {
		threshold = exhaustiveChunkThreshold
	}
	if result.NumChunks < threshold {
		result.IsComplete = false
		result.Confidence = result.Confidence.min(ConfidenceMedium)
		result.Warning = "Note: this answer is based on limited context and may not cover everything."
		result.Reasoning = fmt.Sprintf("only %d evidence chunks for a counting question", result.NumChunks)
	}

	if containsAny(strings.ToLower(answer), uncertaintyIndicators) {
		result.Confidence = result.Confidence.min(ConfidenceMedium)
		if result.Warning == "" {
			result.Warning = "Note: the answer expresses uncertainty and may not be complete."
		}
		result.Reasoning = "uncertainty phrasing detected in answer"
	}

	// Ambiguous signal: "not available" despite having evidence.
	// Downgrade but do not mark incomplete.
	if strings.Contains(strings.ToLower(answer), "not available") && result.NumChunks > 0 {
		result.Confidence = result.Confidence.min(ConfidenceMedium)
		slog.Debug("answer claims unavailability despite retrieved evidence",
			"question", question, "chunks", result.NumChunks)
	}

	// Strongest signal last: a multi-document question answered from a
	// single document means retrieval scope was structurally wrong.
	if mentionsMultipleDocuments(question) && result.NumDocuments < 2 {
		result.IsComplete = false
		result.Confidence = ConfidenceLow
		result.Warning = "Warning: this question spans multiple documents but evidence came from only one. The answer is likely incomplete."
		result.Reasoning = "multi-document question with single-document evidence"
		result.MissingAspects = append(result.MissingAspects, "evidence from additional documents")
	}

	return result
}

func isCountingLike(question string) bool {
	for _, p := range countingPatterns {
		if p.MatchString(question) {
			return true
		}
	}
	return false
}

func mentionsMultipleDocuments(question string) bool {
	words := strings.Fields(strings.ToLower(question))
	for _, w := range words {
		w = strings.Trim(w, ".,!?\"'")
		for _, marker := range multiDocumentWords {
			if w == marker {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
