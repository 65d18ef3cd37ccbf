package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "missing.json")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Ollama.ChatModel != "llama3.1" {
		t.Errorf("Ollama.ChatModel = %q, want %q", cfg.Ollama.ChatModel, "llama3.1")
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("Retrieval.TopK = %d, want 7", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.FetchK != 20 {
		t.Errorf("Retrieval.FetchK = %d, want 20", cfg.Retrieval.FetchK)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

func TestFileBackendOverridesDefaults(t *testing.T) {
	clearEnv(t)

	path := writeTempConfig(t, `{
		"server.port": 9000,
		"ollama.chat_model": "mistral-nemo",
		"retrieval.top_k": 12
	}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Ollama.ChatModel != "mistral-nemo" {
		t.Errorf("Ollama.ChatModel = %q, want %q", cfg.Ollama.ChatModel, "mistral-nemo")
	}
	if cfg.Retrieval.TopK != 12 {
		t.Errorf("Retrieval.TopK = %d, want 12", cfg.Retrieval.TopK)
	}
	// Untouched keys keep defaults.
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q, want default", cfg.Ollama.EmbedModel)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := writeTempConfig(t, `{"server.port": 9000}`)
	t.Setenv("DOCPILOT_SERVER_PORT", "9100")
	t.Setenv("DOCPILOT_OLLAMA_BASE_URL", "http://10.0.0.2:11434")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://10.0.0.2:11434" {
		t.Errorf("Ollama.BaseURL = %q, want env override", cfg.Ollama.BaseURL)
	}
}

func TestInvalidEnvIntIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCPILOT_RETRIEVAL_TOP_K", "not-a-number")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "missing.json")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("Retrieval.TopK = %d, want default 7 when env is invalid", cfg.Retrieval.TopK)
	}
}

func TestMalformedConfigFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{not json`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want default 4200", cfg.Server.Port)
	}
}

func TestSetAndDeleteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	b := newFileBackend(path)

	if err := b.SetInt("server.port", 4300); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("ollama.chat_model", "qwen2.5"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	// Re-open from disk.
	b2 := newFileBackend(path)
	port, ok, err := b2.GetInt("server.port")
	if err != nil || !ok || port != 4300 {
		t.Errorf("GetInt = (%d, %v, %v), want (4300, true, nil)", port, ok, err)
	}
	model, ok, err := b2.GetString("ollama.chat_model")
	if err != nil || !ok || model != "qwen2.5" {
		t.Errorf("GetString = (%q, %v, %v), want (qwen2.5, true, nil)", model, ok, err)
	}

	if err := b2.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, _ = newFileBackend(path).GetInt("server.port")
	if ok {
		t.Error("server.port still present after Delete")
	}
}
