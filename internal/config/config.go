package config

// Config holds all runtime configuration for docpilot.
type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL       string
	ChatModel     string
	AnalysisModel string
	EmbedModel    string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK   int
	FetchK int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Ollama: OllamaConfig{
			BaseURL:       "http://localhost:11434",
			ChatModel:     "llama3.1",
			AnalysisModel: "phi3.5",
			EmbedModel:    "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:   7,
			FetchK: 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in layers: built-in defaults, then the JSON
// config file at $XDG_CONFIG_HOME/docpilot/config.json, then DOCPILOT_*
// environment variables, which override everything.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
