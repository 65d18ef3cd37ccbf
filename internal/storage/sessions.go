package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyExists is returned when creating a session whose ID is taken.
var ErrAlreadyExists = errors.New("already exists")

// CreateSession inserts a new active session together with its first
// document batch, atomically. Returns ErrAlreadyExists if the session ID
// is taken.
func (s *Store) CreateSession(sessionID, documentName, collectionName string, documents []string) error {
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339Nano)

	filenamesJSON, err := json.Marshal(documents)
	if err != nil {
		return fmt.Errorf("marshalling filenames: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning create transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM sessions WHERE session_id = ?", sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("checking session %s: %w", sessionID, err)
	}
	if exists > 0 {
		return ErrAlreadyExists
	}

	if _, err := tx.Exec(`
		INSERT INTO sessions (session_id, document_name, collection_name, created_at, last_updated, is_active)
		VALUES (?, ?, ?, ?, ?, 1)`,
		sessionID, documentName, collectionName, ts, ts,
	); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO document_batches (batch_id, session_id, seq, filenames, added_at)
		VALUES (?, ?, 1, ?, ?)`,
		uuid.New().String(), sessionID, string(filenamesJSON), ts,
	); err != nil {
		return fmt.Errorf("inserting first batch: %w", err)
	}

	return tx.Commit()
}

// AppendBatch adds a document batch to an existing active session. The
// batch row is additive: concurrent appends to the same session each get
// their own row, so no append can overwrite another. Returns ErrNotFound
// for a missing or inactive session.
func (s *Store) AppendBatch(sessionID string, filenames []string) error {
	filenamesJSON, err := json.Marshal(filenames)
	if err != nil {
		return fmt.Errorf("marshalling filenames: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRow("SELECT is_active FROM sessions WHERE session_id = ?", sessionID).Scan(&active)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking session %s: %w", sessionID, err)
	}
	if active == 0 {
		return ErrNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`
		INSERT INTO document_batches (batch_id, session_id, seq, filenames, added_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM document_batches WHERE session_id = ?), ?, ?)`,
		uuid.New().String(), sessionID, sessionID, string(filenamesJSON), now,
	); err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}

	if _, err := tx.Exec(`UPDATE sessions SET last_updated = ? WHERE session_id = ?`, now, sessionID); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	return tx.Commit()
}

// GetSession returns an active session with its batches loaded and the
// flattened document list derived from them in insertion order. Inactive
// sessions are reported as ErrNotFound.
func (s *Store) GetSession(sessionID string) (Session, error) {
	var sess Session
	var createdAt, lastUpdated string
	err := s.db.QueryRow(`
		SELECT session_id, document_name, collection_name, created_at, last_updated
		FROM sessions WHERE session_id = ? AND is_active = 1`, sessionID,
	).Scan(&sess.SessionID, &sess.DocumentName, &sess.CollectionName, &createdAt, &lastUpdated)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}

	if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.LastUpdated, err = time.Parse(time.RFC3339, lastUpdated); err != nil {
		return Session{}, fmt.Errorf("parsing last_updated: %w", err)
	}
	sess.IsActive = true

	rows, err := s.db.Query(`
		SELECT batch_id, filenames, added_at
		FROM document_batches WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("querying batches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b DocumentBatch
		var filenamesJSON, addedAt string
		if err := rows.Scan(&b.BatchID, &filenamesJSON, &addedAt); err != nil {
			return Session{}, fmt.Errorf("scanning batch: %w", err)
		}
		if err := json.Unmarshal([]byte(filenamesJSON), &b.Filenames); err != nil {
			return Session{}, fmt.Errorf("parsing batch filenames: %w", err)
		}
		if b.AddedAt, err = time.Parse(time.RFC3339, addedAt); err != nil {
			return Session{}, fmt.Errorf("parsing added_at: %w", err)
		}
		sess.Batches = append(sess.Batches, b)
		sess.Documents = append(sess.Documents, b.Filenames...)
	}
	return sess, rows.Err()
}

// ListActiveSessions returns all active sessions, most recently updated
// first, without batches loaded.
func (s *Store) ListActiveSessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT session_id, document_name, collection_name, created_at, last_updated
		FROM sessions WHERE is_active = 1 ORDER BY last_updated DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var createdAt, lastUpdated string
		if err := rows.Scan(&sess.SessionID, &sess.DocumentName, &sess.CollectionName, &createdAt, &lastUpdated); err != nil {
			return nil, err
		}
		if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sess.LastUpdated, err = time.Parse(time.RFC3339, lastUpdated); err != nil {
			return nil, fmt.Errorf("parsing last_updated: %w", err)
		}
		sess.IsActive = true
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// AddMessage appends a message to a session's log and touches the
// session's last_updated timestamp. Returns ErrNotFound for a missing or
// inactive session.
func (s *Store) AddMessage(m Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning message transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRow("SELECT is_active FROM sessions WHERE session_id = ?", m.SessionID).Scan(&active)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking session %s: %w", m.SessionID, err)
	}
	if active == 0 {
		return ErrNotFound
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	tsStr := ts.UTC().Format(time.RFC3339Nano)

	if _, err := tx.Exec(`
		INSERT INTO messages (session_id, role, content, timestamp)
		VALUES (?, ?, ?, ?)`,
		m.SessionID, m.Role, m.Content, tsStr,
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(`UPDATE sessions SET last_updated = ? WHERE session_id = ?`, tsStr, m.SessionID); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	return tx.Commit()
}

// GetMessages returns a session's messages ordered by timestamp ascending.
// A limit <= 0 returns all messages.
func (s *Store) GetMessages(sessionID string, limit int) ([]Message, error) {
	query := `
		SELECT session_id, role, content, timestamp
		FROM messages WHERE session_id = ?
		ORDER BY timestamp ASC, message_id ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.SessionID, &m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		if m.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ClearMessages deletes all messages for a session. The session row itself
// is untouched.
func (s *Store) ClearMessages(sessionID string) error {
	_, err := s.db.Exec("DELETE FROM messages WHERE session_id = ?", sessionID)
	return err
}

// SoftDeleteSession marks a session inactive. Messages and batches remain
// queryable for audit; there is no transition back to active.
func (s *Store) SoftDeleteSession(sessionID string) error {
	res, err := s.db.Exec("UPDATE sessions SET is_active = 0 WHERE session_id = ?", sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
