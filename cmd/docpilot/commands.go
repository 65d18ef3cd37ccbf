package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/config"
	"github.com/docpilot/docpilot/internal/ingest"
)

type sessionSummary struct {
	SessionID    string   `json:"session_id"`
	DocumentName string   `json:"document_name"`
	Documents    []string `json:"documents"`
	Batches      int      `json:"batches"`
	CreatedAt    string   `json:"created_at"`
	LastUpdated  string   `json:"last_updated"`
}

// resolveFiles turns CLI path arguments into ingest file specs with
// absolute paths, rejecting unsupported file types before hitting the API.
func resolveFiles(paths []string) ([]map[string]string, error) {
	files := make([]map[string]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("file not found: %s", p)
		}
		name := filepath.Base(abs)
		if !ingest.IsSupported(name) {
			return nil, fmt.Errorf("unsupported file type: %s (supported: %s)",
				name, strings.Join(ingest.SupportedExtensions(), ", "))
		}
		files = append(files, map[string]string{"path": abs, "name": name})
	}
	return files, nil
}

// --- new ---

var newCmd = &cobra.Command{
	Use:   "new <file> [file...]",
	Short: "Create a session from one or more documents",
	Long: `Create a new question-answering session from document files.

Examples:
  docpilot new report.pdf
  docpilot new notes.md appendix.pdf data.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := resolveFiles(args)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Creating session with %d document(s)...", len(files))
		resp, err := client.post(cmd.Context(), "/sessions", map[string]any{"files": files})
		if err != nil {
			return err
		}

		var sess sessionSummary
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		printSuccess("Session %s created", sess.SessionID)
		printStatus("Documents", "%s", strings.Join(sess.Documents, ", "))
		fmt.Println(sess.SessionID)
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <session-id> <question...>",
	Short: "Ask a question about a session's documents",
	Long: `Ask a question about the documents in a session.

Examples:
  docpilot ask 4f7a12bc "What is the total budget?"
  docpilot ask 4f7a12bc how many milestones are listed and when is the last one`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		question := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sessions/"+sessionID+"/ask", map[string]string{
			"question": question,
		})
		if err != nil {
			return err
		}

		var outcome struct {
			Answer       string `json:"answer"`
			SubQuestions []struct {
				Question string `json:"question"`
				Strategy string `json:"strategy"`
			} `json:"sub_questions"`
			Validation struct {
				IsComplete bool   `json:"is_complete"`
				Confidence string `json:"confidence"`
				Warning    string `json:"warning"`
			} `json:"validation"`
		}
		if err := decodeJSON(resp, &outcome); err != nil {
			return err
		}

		fmt.Println(outcome.Answer)

		if len(outcome.SubQuestions) > 1 {
			printStatus("Sub-questions", "%d", len(outcome.SubQuestions))
		}
		printStatus("Confidence", "%s", outcome.Validation.Confidence)
		if !outcome.Validation.IsComplete && outcome.Validation.Warning != "" {
			printWarning("%s", outcome.Validation.Warning)
		}
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage question-answering sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sessions")
		if err != nil {
			return err
		}

		var list struct {
			Sessions []sessionSummary `json:"sessions"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list.Sessions) == 0 {
			fmt.Println("No active sessions.")
			return nil
		}

		for _, s := range list.Sessions {
			fmt.Printf("%s  %s  %d doc(s)  updated %s\n",
				colorize(colorCyan, s.SessionID[:8]),
				s.DocumentName,
				len(s.Documents),
				s.LastUpdated,
			)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a single session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sessions/"+args[0])
		if err != nil {
			return err
		}

		var sess any
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

var sessionsAddCmd = &cobra.Command{
	Use:   "add <session-id> <file> [file...]",
	Short: "Add documents to an existing session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := resolveFiles(args[1:])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sessions/"+args[0]+"/documents", map[string]any{
			"files": files,
		})
		if err != nil {
			return err
		}

		var sess sessionSummary
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		printSuccess("Added %d document(s); session now holds %d", len(files), len(sess.Documents))
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/sessions/"+args[0])
		if err != nil {
			return err
		}
		if err := expectNoContent(resp); err != nil {
			return err
		}

		printSuccess("Session %s deleted", args[0])
		return nil
	},
}

var sessionsMessagesCmd = &cobra.Command{
	Use:   "messages <session-id>",
	Short: "Show conversation history for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/sessions/%s/messages?limit=%d", args[0], limit))
		if err != nil {
			return err
		}

		var history struct {
			Messages []struct {
				Role    string
				Content string
			} `json:"messages"`
		}
		if err := decodeJSON(resp, &history); err != nil {
			return err
		}

		if len(history.Messages) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}

		for _, m := range history.Messages {
			label := m.Role
			if label == "user" {
				label = colorize(colorBold, label)
			}
			fmt.Printf("%s: %s\n", label, m.Content)
		}
		return nil
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Clear conversation history for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/sessions/"+args[0]+"/messages")
		if err != nil {
			return err
		}
		if err := expectNoContent(resp); err != nil {
			return err
		}

		printSuccess("Conversation history cleared")
		return nil
	},
}

func init() {
	sessionsMessagesCmd.Flags().Int("limit", 0, "maximum number of messages to show (0 = all)")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsAddCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsMessagesCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
