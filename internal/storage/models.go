package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is a persistent conversation scope bound to one or more documents.
// Documents is always the flattened concatenation of all batch filename
// lists in insertion order; the first batch corresponds to session creation.
type Session struct {
	SessionID      string
	DocumentName   string
	CollectionName string
	Documents      []string
	Batches        []DocumentBatch
	CreatedAt      time.Time
	LastUpdated    time.Time
	IsActive       bool
}

// DocumentBatch records one group of files added to a session, either at
// creation or mid-conversation.
type DocumentBatch struct {
	BatchID   string
	Filenames []string
	AddedAt   time.Time
}

// Message is one turn in a session's append-only conversation log.
type Message struct {
	SessionID string
	Role      string // "user", "assistant", "system"
	Content   string
	Timestamp time.Time
}

// Job is a queued background task, currently only document ingestion.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
