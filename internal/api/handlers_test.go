package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/docpilot/docpilot/internal/ingest"
	"github.com/docpilot/docpilot/internal/pipeline"
	"github.com/docpilot/docpilot/internal/session"
	"github.com/docpilot/docpilot/internal/storage"
	"github.com/docpilot/docpilot/internal/validation"
)

const testToken = "test-token"

type stubAnswerer struct {
	outcome pipeline.Outcome
	err     error
}

func (s *stubAnswerer) Answer(ctx context.Context, sessionID, question string) (pipeline.Outcome, error) {
	return s.outcome, s.err
}

type stubIngestor struct {
	mu       sync.Mutex
	enqueued []ingest.IngestFile
	err      error
}

func (s *stubIngestor) Enqueue(collection string, files []ingest.IngestFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, files...)
	return nil
}

func newTestServer(t *testing.T, engine Answerer, ingestor Ingestor) (*httptest.Server, *session.Tracker) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tracker := session.NewTracker(store)
	handler := NewAppHandler(AppDeps{
		Tracker: tracker,
		Engine:  engine,
		Ingest:  ingestor,
		Token:   testToken,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, tracker
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func tempDoc(t *testing.T, name string) ingest.IngestFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("document content"), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return ingest.IngestFile{Path: path, Name: name}
}

func TestHealthNoAuth(t *testing.T) {
	srv, _ := newTestServer(t, &stubAnswerer{}, &stubIngestor{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for unauthenticated health check, got %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, &stubAnswerer{}, &stubIngestor{})

	resp, err := http.Get(srv.URL + "/sessions")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestAuthRejectsWrongToken(t *testing.T) {
	srv, _ := newTestServer(t, &stubAnswerer{}, &stubIngestor{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/sessions", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got == "" {
		t.Error("expected WWW-Authenticate header on rejection")
	}

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Error.Type != "authentication_error" {
		t.Errorf("expected authentication_error envelope, got %q", body.Error.Type)
	}
}

func TestCreateSession(t *testing.T) {
	ingestor := &stubIngestor{}
	srv, tracker := newTestServer(t, &stubAnswerer{}, ingestor)

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", createSessionRequest{
		Files: []ingest.IngestFile{tempDoc(t, "report.pdf")},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.SessionID == "" {
		t.Error("expected a session id")
	}
	if len(body.Documents) != 1 || body.Documents[0] != "report.pdf" {
		t.Errorf("expected initial documents, got %v", body.Documents)
	}

	if _, ok := tracker.Get(body.SessionID); !ok {
		t.Error("expected session persisted")
	}
	if len(ingestor.enqueued) != 1 {
		t.Errorf("expected 1 file queued for ingestion, got %d", len(ingestor.enqueued))
	}
}

func TestCreateSessionValidation(t *testing.T) {
	srv, _ := newTestServer(t, &stubAnswerer{}, &stubIngestor{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", createSessionRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty files, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/sessions", createSessionRequest{
		Files: []ingest.IngestFile{{Path: "/tmp/x.exe", Name: "x.exe"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported type, got %d", resp.StatusCode)
	}
}

func TestAddDocuments(t *testing.T) {
	ingestor := &stubIngestor{}
	srv, tracker := newTestServer(t, &stubAnswerer{}, ingestor)
	tracker.Create("s1", "a.pdf", "col_s1", []string{"a.pdf"})

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions/s1/documents", addDocumentsRequest{
		Files: []ingest.IngestFile{tempDoc(t, "b.txt")},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Documents) != 2 || body.Batches != 2 {
		t.Errorf("expected 2 documents in 2 batches, got %v in %d", body.Documents, body.Batches)
	}
}

func TestAddDocumentsMidConversationRecordsNotice(t *testing.T) {
	srv, tracker := newTestServer(t, &stubAnswerer{}, &stubIngestor{})
	tracker.Create("s1", "a.pdf", "col_s1", []string{"a.pdf"})
	tracker.AddMessage("s1", "user", "what does the report say?")
	tracker.AddMessage("s1", "assistant", "The report covers Q1.")

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions/s1/documents", addDocumentsRequest{
		Files: []ingest.IngestFile{tempDoc(t, "b.txt")},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	messages := tracker.Messages("s1", 0)
	if len(messages) != 3 {
		t.Fatalf("expected the upload notice appended to the conversation, got %d messages", len(messages))
	}
	notice := messages[2]
	if notice.Role != "system" {
		t.Errorf("expected system role for the notice, got %q", notice.Role)
	}
	if notice.Content != "Added 1 document(s) to conversation: b.txt" {
		t.Errorf("unexpected notice: %q", notice.Content)
	}
}

func TestAddDocumentsMissingSession(t *testing.T) {
	srv, _ := newTestServer(t, &stubAnswerer{}, &stubIngestor{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions/missing/documents", addDocumentsRequest{
		Files: []ingest.IngestFile{tempDoc(t, "b.txt")},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing session, got %d", resp.StatusCode)
	}
}

func TestAsk(t *testing.T) {
	engine := &stubAnswerer{outcome: pipeline.Outcome{
		Answer: "The answer.",
		Validation: validation.Result{
			IsComplete: true, Confidence: validation.ConfidenceHigh,
		},
	}}
	srv, tracker := newTestServer(t, engine, &stubIngestor{})
	tracker.Create("s1", "a.pdf", "col_s1", []string{"a.pdf"})

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions/s1/ask", askRequest{Question: "what?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body pipeline.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Answer != "The answer." {
		t.Errorf("unexpected answer: %q", body.Answer)
	}
	if body.Validation.Confidence != validation.ConfidenceHigh {
		t.Errorf("expected validation in response, got %+v", body.Validation)
	}
}

func TestAskValidation(t *testing.T) {
	srv, tracker := newTestServer(t, &stubAnswerer{}, &stubIngestor{})
	tracker.Create("s1", "a.pdf", "col_s1", []string{"a.pdf"})

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions/s1/ask", askRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty question, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/sessions/missing/ask", askRequest{Question: "q"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing session, got %d", resp.StatusCode)
	}
}

func TestAskEngineError(t *testing.T) {
	srv, tracker := newTestServer(t, &stubAnswerer{err: fmt.Errorf("boom")}, &stubIngestor{})
	tracker.Create("s1", "a.pdf", "col_s1", []string{"a.pdf"})

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions/s1/ask", askRequest{Question: "q"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 on engine failure, got %d", resp.StatusCode)
	}
}

func TestMessagesLifecycle(t *testing.T) {
	srv, tracker := newTestServer(t, &stubAnswerer{}, &stubIngestor{})
	tracker.Create("s1", "a.pdf", "col_s1", []string{"a.pdf"})
	tracker.AddMessage("s1", "user", "q1")
	tracker.AddMessage("s1", "assistant", "a1")

	resp := doJSON(t, http.MethodGet, srv.URL+"/sessions/s1/messages", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Messages []storage.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/sessions/s1/messages?limit=1", nil)
	var limited struct {
		Messages []storage.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&limited); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(limited.Messages) != 1 {
		t.Errorf("expected limit respected, got %d", len(limited.Messages))
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/sessions/s1/messages", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 on clear, got %d", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	srv, tracker := newTestServer(t, &stubAnswerer{}, &stubIngestor{})
	tracker.Create("s1", "a.pdf", "col_s1", []string{"a.pdf"})

	resp := doJSON(t, http.MethodDelete, srv.URL+"/sessions/s1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/sessions/s1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/sessions/s1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 on double delete, got %d", resp.StatusCode)
	}
}

func TestListSessions(t *testing.T) {
	srv, tracker := newTestServer(t, &stubAnswerer{}, &stubIngestor{})
	tracker.Create("s1", "a.pdf", "col1", []string{"a.pdf"})
	tracker.Create("s2", "b.pdf", "col2", []string{"b.pdf"})
	tracker.Delete("s2")

	resp := doJSON(t, http.MethodGet, srv.URL+"/sessions", nil)
	var body struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].SessionID != "s1" {
		t.Errorf("expected only the active session, got %+v", body.Sessions)
	}
}
