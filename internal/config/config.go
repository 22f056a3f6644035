package config

import (
	"fmt"
)

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Ingest  IngestConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken authenticates every /v1 request. Secret: env only.
	APIToken string
}

type OllamaConfig struct {
	BaseURL        string
	ChatModel      string
	EmbedModel     string
	EmbedDimension int
}

type StorageConfig struct {
	DataDir string
	// MaxBlobSize caps a fetched document's size in bytes.
	MaxBlobSize int64
}

type IngestConfig struct {
	Concurrency  int
	MaxAttempts  int
	PollInterval string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4080,
		},
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			ChatModel:      "llama3.1",
			EmbedModel:     "nomic-embed-text",
			EmbedDimension: 768,
		},
		Storage: StorageConfig{
			DataDir:     defaultDataDir(),
			MaxBlobSize: 10 << 20,
		},
		Ingest: IngestConfig{
			Concurrency:  5,
			MaxAttempts:  3,
			PollInterval: "1s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/raglined/config.json, then applies RAGLINED_*
// environment overrides. The API token is a secret and comes from the
// environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set it via environment variable RAGLINED_API_TOKEN")
	}
	if cfg.Ollama.EmbedDimension <= 0 {
		return Config{}, fmt.Errorf("ollama.embed_dimension must be positive, got %d", cfg.Ollama.EmbedDimension)
	}
	if cfg.Ingest.Concurrency <= 0 {
		return Config{}, fmt.Errorf("ingest.concurrency must be positive, got %d", cfg.Ingest.Concurrency)
	}

	return cfg, nil
}
