package validation

import (
	"context"

	"github.com/docpilot/docpilot/internal/retrieval"
)

// Confidence expresses how much the validator trusts an answer.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// rank orders confidence levels so downgrades are well-defined.
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// min returns the lower of two confidence levels. Validation signals only
// ever reduce confidence, never restore it.
func (c Confidence) min(other Confidence) Confidence {
	if other.rank() < c.rank() {
		return other
	}
	return c
}

// Result is the validator's verdict on a final answer.
type Result struct {
	IsComplete     bool       `json:"is_complete"`
	Confidence     Confidence `json:"confidence"`
	Warning        string     `json:"warning,omitempty"`
	Reasoning      string     `json:"reasoning"`
	MissingAspects []string   `json:"missing_aspects,omitempty"`
	NumChunks      int        `json:"num_chunks"`
	NumDocuments   int        `json:"num_documents"`
}

// Validator judges whether an answer and its evidence look complete.
// The model judge and the heuristic judge are interchangeable behind
// this contract.
type Validator interface {
	Validate(ctx context.Context, question, answer string, evidence retrieval.Result) Result
}

// AppendWarning attaches the validation warning to an answer. Pure: the
// answer comes back unchanged when there is no warning.
func AppendWarning(answer string, result Result) string {
	if result.Warning == "" {
		return answer
	}
	return answer + "\n\n" + result.Warning
}
