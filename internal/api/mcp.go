package api

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/docpilot/docpilot/internal/index"
	"github.com/docpilot/docpilot/internal/ingest"
)

// MCPSearcher abstracts raw similarity search for the search tool.
type MCPSearcher interface {
	Search(collection string, vector []float32, fetchK int) ([]index.ScoredRecord, error)
}

// MCPEmbedder turns search queries into vectors.
type MCPEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Deps     AppDeps
	Searcher MCPSearcher
	Embedder MCPEmbedder
}

// NewMCPServer creates an MCP server exposing document Q&A tools, so
// MCP-capable assistants can use ingested documents as a knowledge base.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"docpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("docpilot — local question answering over ingested document collections."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_documents",
			mcp.WithDescription("Ask a question against a document session. Handles multi-part questions and returns a validated answer."),
			mcp.WithString("session_id", mcp.Description("Session holding the documents to query"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAskDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search a session's documents and return raw matching passages without answer generation."),
			mcp.WithString("session_id", mcp.Description("Session holding the documents to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 5)")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List active document sessions and the documents each contains."),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("add_documents",
			mcp.WithDescription("Add local document files to an existing session. Files are ingested in the background."),
			mcp.WithString("session_id", mcp.Description("Session to add documents to"), mcp.Required()),
			mcp.WithString("paths", mcp.Description("JSON array of absolute file paths"), mcp.Required()),
		),
		mcpAddDocuments(deps),
	)

	return s
}

func mcpAskDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		if _, ok := deps.Deps.Tracker.Get(sessionID); !ok {
			return mcpError(fmt.Sprintf("session %s not found", sessionID)), nil
		}

		outcome, err := deps.Deps.Engine.Answer(ctx, sessionID, question)
		if err != nil {
			return mcpError(fmt.Sprintf("answering failed: %v", err)), nil
		}

		return mcpText(outcome.Answer), nil
	}
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		sess, ok := deps.Deps.Tracker.Get(sessionID)
		if !ok {
			return mcpError(fmt.Sprintf("session %s not found", sessionID)), nil
		}

		vector, err := deps.Embedder.Embed(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("embedding failed: %v", err)), nil
		}

		records, err := deps.Searcher.Search(sess.CollectionName, vector, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		type passage struct {
			Source  string  `json:"source"`
			Content string  `json:"content"`
			Score   float32 `json:"score"`
		}

		passages := make([]passage, len(records))
		for i, rec := range records {
			passages[i] = passage{
				Source:  rec.DocumentName,
				Content: rec.Content,
				Score:   rec.Score,
			}
		}

		b, err := json.Marshal(passages)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions := deps.Deps.Tracker.List()

		type sessionSummary struct {
			SessionID   string   `json:"session_id"`
			Documents   []string `json:"documents"`
			LastUpdated string   `json:"last_updated"`
		}

		summaries := make([]sessionSummary, len(sessions))
		for i, s := range sessions {
			summaries[i] = sessionSummary{
				SessionID:   s.SessionID,
				Documents:   s.Documents,
				LastUpdated: s.LastUpdated.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		pathsJSON, err := req.RequireString("paths")
		if err != nil {
			return mcpError("paths is required"), nil
		}

		var paths []string
		if err := json.Unmarshal([]byte(pathsJSON), &paths); err != nil {
			return mcpError(fmt.Sprintf("invalid paths JSON: %v", err)), nil
		}
		if len(paths) == 0 {
			return mcpError("paths must not be empty"), nil
		}

		files := make([]ingest.IngestFile, len(paths))
		for i, p := range paths {
			name := filepath.Base(p)
			if !ingest.IsSupported(name) {
				return mcpError(fmt.Sprintf("unsupported file type: %s", name)), nil
			}
			files[i] = ingest.IngestFile{Path: p, Name: name}
		}

		sess, ok := deps.Deps.Tracker.Get(sessionID)
		if !ok {
			return mcpError(fmt.Sprintf("session %s not found", sessionID)), nil
		}

		names := fileNames(files)
		if !deps.Deps.Tracker.AppendDocuments(sessionID, names) {
			return mcpError(fmt.Sprintf("failed to add documents to session %s", sessionID)), nil
		}
		deps.Deps.Tracker.NoteDocumentsAdded(sessionID, names)

		if err := deps.Deps.Ingest.Enqueue(sess.CollectionName, files); err != nil {
			return mcpError(fmt.Sprintf("documents recorded but ingestion queueing failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued %d documents for ingestion into session %s", len(files), sessionID)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
