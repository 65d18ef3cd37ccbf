package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docpilot/docpilot/internal/index"
	"github.com/docpilot/docpilot/internal/storage"
)

// JobTypeIngest identifies document ingestion jobs in the queue.
const JobTypeIngest = "ingest_documents"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// BatchEmbedder generates embeddings for chunk batches.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorInserter inserts records into the vector index.
type VectorInserter interface {
	Insert(collection string, records []index.Record) error
}

// IngestFile names one file to ingest: the on-disk path and the
// user-facing filename recorded as chunk metadata.
type IngestFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// ingestPayload is the JSON body of an ingest_documents job.
type ingestPayload struct {
	Collection string       `json:"collection"`
	Files      []IngestFile `json:"files"`
}

// Worker processes document ingestion jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder BatchEmbedder
	vectors  VectorInserter
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder BatchEmbedder, vectors VectorInserter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Enqueue queues files for background ingestion into a collection.
func (w *Worker) Enqueue(collection string, files []IngestFile) error {
	payload, err := json.Marshal(ingestPayload{Collection: collection, Files: files})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return w.store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobTypeIngest,
		PayloadJSON: string(payload),
	})
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingestion job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeIngest})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("ingestion job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload ingestPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	for _, file := range payload.Files {
		if err := w.IngestFile(ctx, payload.Collection, file); err != nil {
			return fmt.Errorf("ingesting %s: %w", file.Name, err)
		}
	}
	return nil
}

// IngestFile loads, splits, embeds, and indexes a single file into a
// collection. Also usable synchronously, outside the job queue.
func (w *Worker) IngestFile(ctx context.Context, collection string, file IngestFile) error {
	doc, err := Load(file.Path, file.Name)
	if err != nil {
		return err
	}

	chunks := Split(doc.Text, DefaultChunkSize, DefaultChunkOverlap)
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks produced from %s", file.Name)
	}

	vectors, err := w.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	now := time.Now().UTC()
	records := make([]index.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = index.Record{
			ID:           uuid.NewString(),
			Collection:   collection,
			DocumentName: doc.Name,
			DocumentPath: doc.Path,
			Content:      chunk,
			Embedding:    vectors[i],
			Metadata:     map[string]string{"source": doc.Name},
			CreatedAt:    now,
		}
	}

	if err := w.vectors.Insert(collection, records); err != nil {
		return fmt.Errorf("indexing chunks: %w", err)
	}

	w.logger.Info("document ingested",
		"document", doc.Name, "collection", collection, "chunks", len(chunks))
	return nil
}
