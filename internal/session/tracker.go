package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docpilot/docpilot/internal/storage"
)

// SessionStore is the slice of the storage layer the tracker needs.
type SessionStore interface {
	CreateSession(sessionID, documentName, collectionName string, documents []string) error
	AppendBatch(sessionID string, filenames []string) error
	GetSession(sessionID string) (storage.Session, error)
	ListActiveSessions() ([]storage.Session, error)
	AddMessage(m storage.Message) error
	GetMessages(sessionID string, limit int) ([]storage.Message, error)
	ClearMessages(sessionID string) error
	SoftDeleteSession(sessionID string) error
}

// Tracker manages which documents are in scope per conversation and the
// conversation turn log. Mutations return booleans rather than errors:
// a failed append or message write must never abort an in-progress chat
// turn, only disable the related notice. Failures are still logged.
type Tracker struct {
	store SessionStore
}

func NewTracker(store SessionStore) *Tracker {
	return &Tracker{store: store}
}

// NewSessionID generates a collision-free session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Create starts a new session with its first document batch. Returns
// false if the session ID is already taken.
func (t *Tracker) Create(sessionID, documentName, collectionName string, documents []string) bool {
	err := t.store.CreateSession(sessionID, documentName, collectionName, documents)
	if err != nil {
		if !errors.Is(err, storage.ErrAlreadyExists) {
			slog.Error("failed to create session", "session_id", sessionID, "error", err)
		}
		return false
	}
	return true
}

// AppendDocuments adds a batch of documents to an existing session.
// Returns false for a missing or inactive session.
func (t *Tracker) AppendDocuments(sessionID string, filenames []string) bool {
	if len(filenames) == 0 {
		return false
	}
	if err := t.store.AppendBatch(sessionID, filenames); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("failed to append document batch", "session_id", sessionID, "error", err)
		}
		return false
	}
	return true
}

// NoteDocumentsAdded records a system turn announcing documents that
// joined the session mid-conversation, so later questions see the
// expanded scope in their history. Callers skip this entirely when the
// preceding append failed; the notice is disabled, never the chat.
func (t *Tracker) NoteDocumentsAdded(sessionID string, filenames []string) bool {
	if len(filenames) == 0 {
		return false
	}
	notice := fmt.Sprintf("Added %d document(s) to conversation: %s",
		len(filenames), strings.Join(filenames, ", "))
	return t.AddMessage(sessionID, "system", notice)
}

// Get returns an active session, or ok=false if it does not exist or
// has been deleted.
func (t *Tracker) Get(sessionID string) (storage.Session, bool) {
	s, err := t.store.GetSession(sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("failed to load session", "session_id", sessionID, "error", err)
		}
		return storage.Session{}, false
	}
	return s, true
}

// List returns all active sessions.
func (t *Tracker) List() []storage.Session {
	sessions, err := t.store.ListActiveSessions()
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		return nil
	}
	return sessions
}

// AddMessage appends a conversation turn to the session log.
func (t *Tracker) AddMessage(sessionID, role, content string) bool {
	err := t.store.AddMessage(storage.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("failed to record message", "session_id", sessionID, "error", err)
		}
		return false
	}
	return true
}

// Messages returns up to limit turns ordered oldest first. A limit of 0
// returns everything.
func (t *Tracker) Messages(sessionID string, limit int) []storage.Message {
	messages, err := t.store.GetMessages(sessionID, limit)
	if err != nil {
		slog.Error("failed to load messages", "session_id", sessionID, "error", err)
		return nil
	}
	return messages
}

// Recent returns the last n turns in ascending order, for prompt
// context. n <= 0 returns nothing.
func (t *Tracker) Recent(sessionID string, n int) []storage.Message {
	if n <= 0 {
		return nil
	}
	messages := t.Messages(sessionID, 0)
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	return messages
}

// ClearMessages wipes a session's conversation history while keeping
// the session and its documents.
func (t *Tracker) ClearMessages(sessionID string) bool {
	if err := t.store.ClearMessages(sessionID); err != nil {
		slog.Error("failed to clear messages", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

// Delete flags a session inactive. Messages remain queryable through
// the storage layer for audit; the tracker stops returning the session.
func (t *Tracker) Delete(sessionID string) bool {
	if err := t.store.SoftDeleteSession(sessionID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("failed to delete session", "session_id", sessionID, "error", err)
		}
		return false
	}
	return true
}
