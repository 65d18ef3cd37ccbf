package index

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// embedConcurrency bounds parallel embedding requests so a large batch
// doesn't overwhelm the local model server.
const embedConcurrency = 4

// EmbeddingEngine is the slice of the LLM client the embedder needs.
type EmbeddingEngine interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Embedder produces embedding vectors for text using a fixed model.
type Embedder struct {
	engine EmbeddingEngine
	model  string
}

func NewEmbedder(engine EmbeddingEngine, model string) *Embedder {
	return &Embedder{engine: engine, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.engine.Embed(ctx, e.model, text)
}

// EmbedBatch embeds texts concurrently, preserving input order.
// Fails as a whole if any single embedding fails: a partially embedded
// batch would leave the collection inconsistent.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			v, err := e.engine.Embed(gctx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			vectors[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
