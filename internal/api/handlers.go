package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docpilot/docpilot/internal/ingest"
	"github.com/docpilot/docpilot/internal/pipeline"
	"github.com/docpilot/docpilot/internal/session"
	"github.com/docpilot/docpilot/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Answerer runs one question-answer cycle.
type Answerer interface {
	Answer(ctx context.Context, sessionID, question string) (pipeline.Outcome, error)
}

// Ingestor queues documents for background ingestion.
type Ingestor interface {
	Enqueue(collection string, files []ingest.IngestFile) error
}

type AppDeps struct {
	Tracker *session.Tracker
	Engine  Answerer
	Ingest  Ingestor
	Token   string
}

// NewAppHandler returns the HTTP API for sessions, documents, and
// question answering.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions", handleListSessions(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
		r.Post("/sessions/{id}/documents", handleAddDocuments(deps))
		r.Post("/sessions/{id}/ask", handleAsk(deps))
		r.Get("/sessions/{id}/messages", handleGetMessages(deps))
		r.Delete("/sessions/{id}/messages", handleClearMessages(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createSessionRequest struct {
	Files []ingest.IngestFile `json:"files"`
}

type sessionResponse struct {
	SessionID      string   `json:"session_id"`
	DocumentName   string   `json:"document_name"`
	CollectionName string   `json:"collection_name"`
	Documents      []string `json:"documents"`
	Batches        int      `json:"batches"`
	CreatedAt      string   `json:"created_at"`
	LastUpdated    string   `json:"last_updated"`
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Files) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "files is required and must not be empty")
			return
		}
		for _, f := range req.Files {
			if f.Path == "" || f.Name == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "every file needs path and name")
				return
			}
			if !ingest.IsSupported(f.Name) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported file type: %s", f.Name)
				return
			}
		}

		sessionID := session.NewSessionID()
		collection := "docs_" + sessionID
		names := fileNames(req.Files)

		if !deps.Tracker.Create(sessionID, names[0], collection, names) {
			httpError(w, http.StatusConflict, "invalid_request_error", "session already exists")
			return
		}

		if err := deps.Ingest.Enqueue(collection, req.Files); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue ingestion: %v", err)
			return
		}

		sess, ok := deps.Tracker.Get(sessionID)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "session vanished after create")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toSessionResponse(sess))
	}
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := deps.Tracker.List()
		out := make([]sessionResponse, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, toSessionResponse(s))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"sessions": out})
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := deps.Tracker.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "invalid_request_error", "session not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toSessionResponse(sess))
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Tracker.Delete(chi.URLParam(r, "id")) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "session not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type addDocumentsRequest struct {
	Files []ingest.IngestFile `json:"files"`
}

func handleAddDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		sessionID := chi.URLParam(r, "id")

		var req addDocumentsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Files) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "files is required and must not be empty")
			return
		}

		sess, ok := deps.Tracker.Get(sessionID)
		if !ok {
			httpError(w, http.StatusNotFound, "invalid_request_error", "session not found")
			return
		}

		names := fileNames(req.Files)
		if !deps.Tracker.AppendDocuments(sessionID, names) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "session not found")
			return
		}
		deps.Tracker.NoteDocumentsAdded(sessionID, names)

		if err := deps.Ingest.Enqueue(sess.CollectionName, req.Files); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue ingestion: %v", err)
			return
		}

		updated, _ := deps.Tracker.Get(sessionID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toSessionResponse(updated))
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		sessionID := chi.URLParam(r, "id")

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		if _, ok := deps.Tracker.Get(sessionID); !ok {
			httpError(w, http.StatusNotFound, "invalid_request_error", "session not found")
			return
		}

		outcome, err := deps.Engine.Answer(r.Context(), sessionID, req.Question)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "answering failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(outcome)
	}
}

func handleGetMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		if _, ok := deps.Tracker.Get(sessionID); !ok {
			httpError(w, http.StatusNotFound, "invalid_request_error", "session not found")
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit: %s", raw)
				return
			}
			limit = n
		}

		messages := deps.Tracker.Messages(sessionID, limit)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"messages": messages})
	}
}

func handleClearMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		if _, ok := deps.Tracker.Get(sessionID); !ok {
			httpError(w, http.StatusNotFound, "invalid_request_error", "session not found")
			return
		}
		if !deps.Tracker.ClearMessages(sessionID) {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear messages")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func toSessionResponse(s storage.Session) sessionResponse {
	return sessionResponse{
		SessionID:      s.SessionID,
		DocumentName:   s.DocumentName,
		CollectionName: s.CollectionName,
		Documents:      s.Documents,
		Batches:        len(s.Batches),
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
		LastUpdated:    s.LastUpdated.Format(time.RFC3339),
	}
}

func fileNames(files []ingest.IngestFile) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
