package index

import (
	"context"
	"time"
)

// Index is the narrow vector-index contract the retrieval layer consumes.
// The default implementation uses SQLite with brute-force cosine
// similarity; any embedding-backed index satisfying this interface is
// interchangeable.
type Index interface {
	// Insert adds chunk records to the given collection.
	Insert(collection string, records []Record) error

	// Search performs vector similarity search within a collection,
	// returning up to fetchK records sorted by score descending. Callers
	// over-fetch (fetchK > topK) so they can post-filter without starving
	// the final result set.
	Search(collection string, vector []float32, fetchK int) ([]ScoredRecord, error)

	// Scan returns every record in the collection whose metadata matches
	// all filter keys exactly. An empty filter returns all records. There
	// is no ranking and no upper bound on count.
	Scan(ctx context.Context, collection string, filter map[string]string) ([]Record, error)

	// Count returns the number of records in a collection.
	Count(collection string) (int, error)

	// DeleteCollection removes all records in a collection.
	DeleteCollection(collection string) error
}

// Record is one stored document chunk with its provenance and embedding.
type Record struct {
	ID           string
	Collection   string
	DocumentName string
	DocumentPath string
	Content      string
	Embedding    []float32
	Metadata     map[string]string
	CreatedAt    time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
