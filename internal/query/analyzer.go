package query

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/docpilot/docpilot/internal/llm"
)

const analysisTimeout = 30 * time.Second

// Question types determine how retrieved evidence is validated downstream.
const (
	TypeCount    = "count"
	TypeList     = "list"
	TypeTimeline = "timeline"
	TypeGeneral  = "general"
)

// Retrieval strategies.
const (
	StrategySemantic   = "semantic"
	StrategyExhaustive = "exhaustive"
)

// SubQuestion is one focused retrieval target produced by decomposition.
type SubQuestion struct {
	Question string            `json:"question"`
	Type     string            `json:"type"`
	Strategy string            `json:"strategy"`
	Filters  map[string]string `json:"filters"`
}

// decomposition is the raw structured output from the analysis model.
type decomposition struct {
	SubQuestions []SubQuestion `json:"sub_questions"`
}

// Chatter is the slice of the LLM client the analyzer needs.
type Chatter interface {
	ChatStructured(ctx context.Context, model string, messages []llm.Message, schema *llm.Schema, out any) error
}

// Analyzer decomposes user queries into retrieval sub-questions using a
// fast local analysis model.
type Analyzer struct {
	client Chatter
	model  string
}

func NewAnalyzer(client Chatter, model string) *Analyzer {
	return &Analyzer{client: client, model: model}
}

// Analyze decomposes a query into one or more sub-questions. The
// documents currently in the session's scope ground the model's source
// filters: it can only filter on filenames it was shown, and filters
// naming anything else are dropped. Short simple queries skip the model
// entirely. On any model failure it falls back to treating the whole
// query as a single semantic sub-question — analysis must never block
// answering.
func (a *Analyzer) Analyze(ctx context.Context, query string, documents []string, history []llm.Message) []SubQuestion {
	if isSimpleQuery(query) {
		return []SubQuestion{passthrough(query)}
	}

	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	messages := BuildPrompt(query, documents, history)

	var result decomposition
	if err := a.client.ChatStructured(ctx, a.model, messages, decompositionSchema(), &result); err != nil {
		slog.Warn("query decomposition failed, falling back to single sub-question", "error", err)
		return []SubQuestion{passthrough(query)}
	}

	subs := sanitize(result.SubQuestions, documents)
	if len(subs) == 0 {
		slog.Warn("query decomposition returned no usable sub-questions", "query", query)
		return []SubQuestion{passthrough(query)}
	}
	return subs
}

// isSimpleQuery reports whether a query is short and single-clause,
// in which case decomposition adds latency without value.
func isSimpleQuery(query string) bool {
	words := strings.Fields(query)
	return len(words) < 5 && !strings.Contains(strings.ToLower(query), " and ")
}

func passthrough(query string) SubQuestion {
	return SubQuestion{
		Question: query,
		Type:     TypeGeneral,
		Strategy: StrategySemantic,
		Filters:  map[string]string{},
	}
}

// allowedFilterKeys are the metadata keys retrieval can actually filter on.
// Models tend to invent entity filters ("person": "Alice") that match
// nothing in chunk metadata and would silently empty the scan.
var allowedFilterKeys = map[string]bool{
	"source": true,
}

// sanitize drops empty sub-questions, normalizes unknown types and
// strategies to safe defaults, and strips filter keys retrieval cannot
// use. A source filter naming a document outside the session's scope is
// dropped too: a hallucinated filename would silently empty the scan.
func sanitize(subs []SubQuestion, documents []string) []SubQuestion {
	out := make([]SubQuestion, 0, len(subs))
	for _, sub := range subs {
		sub.Question = strings.TrimSpace(sub.Question)
		if sub.Question == "" {
			continue
		}

		switch sub.Type {
		case TypeCount, TypeList, TypeTimeline, TypeGeneral:
		default:
			sub.Type = TypeGeneral
		}

		switch sub.Strategy {
		case StrategySemantic, StrategyExhaustive:
		default:
			sub.Strategy = StrategySemantic
		}

		filtered := map[string]string{}
		for k, v := range sub.Filters {
			if !allowedFilterKeys[k] || v == "" {
				continue
			}
			if k == "source" {
				name, ok := matchDocument(v, documents)
				if !ok {
					slog.Debug("dropping source filter for out-of-scope document", "filter", v)
					continue
				}
				v = name
			}
			filtered[k] = v
		}
		sub.Filters = filtered

		out = append(out, sub)
	}
	return out
}

// matchDocument resolves a filter value against the in-scope document
// names, canonicalizing case so the filter matches stored metadata.
func matchDocument(name string, documents []string) (string, bool) {
	for _, doc := range documents {
		if strings.EqualFold(doc, name) {
			return doc, true
		}
	}
	return "", false
}

func decompositionSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"sub_questions": {
				Type:        "array",
				Description: "Focused sub-questions covering every part of the user's query",
				Items: &llm.SchemaProperty{
					Type: "object",
					Properties: map[string]llm.SchemaProperty{
						"question": {Type: "string", Description: "A single focused question"},
						"type":     {Type: "string", Description: "One of: count, list, timeline, general"},
						"strategy": {Type: "string", Description: "One of: semantic, exhaustive"},
						"filters":  {Type: "object", Description: "Optional metadata filters, e.g. {\"source\": \"report.pdf\"}"},
					},
					Required: []string{"question", "type", "strategy"},
				},
			},
		},
		Required: []string{"sub_questions"},
	}
}
