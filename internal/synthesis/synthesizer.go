package synthesis

import (
	"strings"

	"github.com/docpilot/docpilot/internal/retrieval"
)

// Canonical messages returned when the documents contain nothing useful.
const (
	NoInformationMessage = "No relevant information was found in the provided documents."
	NotAvailableMessage  = "This information is not available in the provided documents."
)

// SubAnswer pairs a generated answer with the sub-question and evidence
// that produced it. Lives for one question-answer cycle.
type SubAnswer struct {
	Question string
	Answer   string
	Evidence retrieval.Result
}

// negativePhrases covers the ways generation models phrase "I found
// nothing". Matching is by substring after lowercasing, so wording
// around the phrase doesn't defeat the check.
var negativePhrases = []string{
	"not available",
	"no information",
	"no relevant information",
	"could not find",
	"couldn't find",
	"does not contain",
	"doesn't contain",
	"not mentioned",
	"not found in the",
}

// Synthesize merges per-sub-question answers into one response, in the
// original decomposition order. Uninformative answers are dropped unless
// nothing informative remains.
func Synthesize(subAnswers []SubAnswer) string {
	if len(subAnswers) == 0 {
		return NoInformationMessage
	}
	if len(subAnswers) == 1 {
		if strings.TrimSpace(subAnswers[0].Answer) == "" {
			return NotAvailableMessage
		}
		return subAnswers[0].Answer
	}

	informative := make([]string, 0, len(subAnswers))
	for _, sa := range subAnswers {
		if isNegative(sa.Answer) {
			continue
		}
		informative = append(informative, sa.Answer)
	}

	if len(informative) == 0 {
		return NotAvailableMessage
	}
	return strings.Join(informative, "\n\n")
}

// isNegative reports whether an answer is empty or a "nothing found"
// placeholder. Long answers are never negative: a substantive response
// that happens to mention a negative phrase still carries information.
func isNegative(answer string) bool {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return true
	}
	if len(trimmed) > 200 {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range negativePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
