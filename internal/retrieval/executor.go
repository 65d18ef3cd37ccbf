package retrieval

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/docpilot/docpilot/internal/index"
	"github.com/docpilot/docpilot/internal/query"
)

// exhaustiveScore marks chunks returned by a full scan, where similarity
// ranking does not apply.
const exhaustiveScore = 1.0

// Searcher is the slice of the vector index the executor needs.
type Searcher interface {
	Search(collection string, vector []float32, fetchK int) ([]index.ScoredRecord, error)
	Scan(ctx context.Context, collection string, filter map[string]string) ([]index.Record, error)
}

// TextEmbedder turns a sub-question into a query vector.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Executor gathers evidence for a sub-question using the strategy the
// analyzer selected.
type Executor struct {
	index    Searcher
	embedder TextEmbedder
	topK     int
	fetchK   int
}

func NewExecutor(idx Searcher, embedder TextEmbedder, topK, fetchK int) *Executor {
	return &Executor{index: idx, embedder: embedder, topK: topK, fetchK: fetchK}
}

// Execute retrieves evidence for one sub-question from a collection.
// Retrieval failures degrade to an empty result rather than erroring:
// synthesis handles missing evidence explicitly.
func (e *Executor) Execute(ctx context.Context, collection string, sub query.SubQuestion) Result {
	result := Result{Question: sub.Question, Strategy: sub.Strategy}

	var chunks []EvidenceChunk
	var err error
	switch sub.Strategy {
	case query.StrategyExhaustive:
		chunks, err = e.exhaustive(ctx, collection, sub)
	default:
		chunks, err = e.semantic(ctx, collection, sub)
	}
	if err != nil {
		slog.Warn("retrieval failed, returning empty evidence",
			"strategy", sub.Strategy, "question", sub.Question, "error", err)
		return result
	}

	result.Chunks = chunks
	return result
}

// semantic embeds the question and ranks chunks by cosine similarity.
// It over-fetches so that a document-name filter applied afterwards
// still leaves enough candidates, then truncates to topK.
func (e *Executor) semantic(ctx context.Context, collection string, sub query.SubQuestion) ([]EvidenceChunk, error) {
	vector, err := e.embedder.Embed(ctx, sub.Question)
	if err != nil {
		return nil, err
	}

	records, err := e.index.Search(collection, vector, e.fetchK)
	if err != nil {
		return nil, err
	}

	wantDoc := sub.Filters["source"]
	if wantDoc == "" {
		wantDoc = ExtractDocumentName(sub.Question)
	}

	chunks := make([]EvidenceChunk, 0, e.topK)
	for _, rec := range records {
		if wantDoc != "" && !documentMatches(rec.DocumentName, wantDoc) {
			continue
		}
		chunks = append(chunks, toChunk(rec.Record, rec.Score))
		if len(chunks) == e.topK {
			break
		}
	}
	return chunks, nil
}

// exhaustive returns every chunk matching the sub-question's filters.
// Counting and complete-list questions need the full population, not a
// similarity sample. Only explicit structural filters reach the index; a
// filename mentioned in the question is applied afterwards, like in the
// semantic path.
func (e *Executor) exhaustive(ctx context.Context, collection string, sub query.SubQuestion) ([]EvidenceChunk, error) {
	records, err := e.index.Scan(ctx, collection, sub.Filters)
	if err != nil {
		return nil, err
	}

	wantDoc := ""
	if len(sub.Filters) == 0 {
		wantDoc = ExtractDocumentName(sub.Question)
	}

	chunks := make([]EvidenceChunk, 0, len(records))
	for _, rec := range records {
		if wantDoc != "" && !documentMatches(rec.DocumentName, wantDoc) {
			continue
		}
		chunks = append(chunks, toChunk(rec, exhaustiveScore))
	}
	return chunks, nil
}

func toChunk(rec index.Record, score float32) EvidenceChunk {
	return EvidenceChunk{
		Content: rec.Content,
		Source:  rec.DocumentName,
		Score:   score,
		Meta:    rec.Metadata,
	}
}

// Filename mention patterns, tried in order: quoted names first since
// quotes signal explicit intent, then bare names with a known extension.
var (
	quotedFilePattern = regexp.MustCompile(`["']([^"']+\.(?:pdf|txt|md|html?|docx?))["']`)
	bareFilePattern   = regexp.MustCompile(`(?i)\b([\w][\w\-.]*\.(?:pdf|txt|md|html?|docx?))\b`)
)

// ExtractDocumentName finds a filename mentioned in a question, if any.
func ExtractDocumentName(question string) string {
	if m := quotedFilePattern.FindStringSubmatch(question); m != nil {
		return m[1]
	}
	if m := bareFilePattern.FindStringSubmatch(question); m != nil {
		return m[1]
	}
	return ""
}

// documentMatches compares document names case-insensitively, tolerating
// queries that omit the directory part of an ingested path.
func documentMatches(recorded, wanted string) bool {
	recorded = strings.ToLower(recorded)
	wanted = strings.ToLower(wanted)
	return recorded == wanted || strings.HasSuffix(recorded, "/"+wanted)
}
