package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Knowledge KnowledgeConfig
	Ingest    IngestConfig
	Retrieval RetrievalConfig
	History   HistoryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string // bearer token for /sync and /upload; empty disables auth
}

type OllamaConfig struct {
	BaseURL       string
	ChatModel     string // answer generation
	ClassifyModel string // fast model for intent classification
	EmbedModel    string
}

type StorageConfig struct {
	DataDir string
}

// KnowledgeConfig names the two corpus roots: a version-controlled default
// knowledge set and a dynamically uploaded one.
type KnowledgeConfig struct {
	DefaultDir string
	UploadDir  string
}

type IngestConfig struct {
	ChunkSize    int // max chunk size in runes
	ChunkOverlap int // overlap between consecutive chunks in runes
}

type RetrievalConfig struct {
	TopK          int
	MinConfidence float64 // similarity threshold for confident grounding
}

type HistoryConfig struct {
	Window int // max prior turns passed to the classifier
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:       "http://localhost:11434",
			ChatModel:     "mistral-nemo",
			ClassifyModel: "phi3.5",
			EmbedModel:    "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Knowledge: KnowledgeConfig{
			DefaultDir: filepath.Join(dataDir, "kb_default"),
			UploadDir:  filepath.Join(dataDir, "kb_data"),
		},
		Ingest: IngestConfig{
			ChunkSize:    800,
			ChunkOverlap: 120,
		},
		Retrieval: RetrievalConfig{
			TopK:          4,
			MinConfidence: 0.30,
		},
		History: HistoryConfig{
			Window: 6,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/deskmate/config.json with DESKMATE_* environment
// variables overriding file values.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinConfidence < -1 || c.Retrieval.MinConfidence > 1 {
		return fmt.Errorf("retrieval.min_confidence must be within [-1, 1], got %v", c.Retrieval.MinConfidence)
	}
	return nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	stringKeys := []struct {
		key  string
		dest *string
	}{
		{"server.api_token", &cfg.Server.APIToken},
		{"ollama.base_url", &cfg.Ollama.BaseURL},
		{"ollama.chat_model", &cfg.Ollama.ChatModel},
		{"ollama.classify_model", &cfg.Ollama.ClassifyModel},
		{"ollama.embed_model", &cfg.Ollama.EmbedModel},
		{"storage.data_dir", &cfg.Storage.DataDir},
		{"knowledge.default_dir", &cfg.Knowledge.DefaultDir},
		{"knowledge.upload_dir", &cfg.Knowledge.UploadDir},
		{"log.level", &cfg.Log.Level},
	}
	for _, k := range stringKeys {
		v, ok, err := b.GetString(k.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", k.key, err)
		}
		if ok {
			*k.dest = v
		}
	}

	intKeys := []struct {
		key  string
		dest *int
	}{
		{"server.port", &cfg.Server.Port},
		{"ingest.chunk_size", &cfg.Ingest.ChunkSize},
		{"ingest.chunk_overlap", &cfg.Ingest.ChunkOverlap},
		{"retrieval.top_k", &cfg.Retrieval.TopK},
		{"history.window", &cfg.History.Window},
	}
	for _, k := range intKeys {
		v, ok, err := b.GetInt(k.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", k.key, err)
		}
		if ok {
			*k.dest = v
		}
	}

	if v, ok, err := b.GetFloat("retrieval.min_confidence"); err != nil {
		return fmt.Errorf("reading retrieval.min_confidence: %w", err)
	} else if ok {
		cfg.Retrieval.MinConfidence = v
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	envString := func(name string, dest *string) {
		if v := os.Getenv(name); v != "" {
			*dest = v
		}
	}
	envInt := func(name string, dest *int) {
		if v := os.Getenv(name); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*dest = i
			}
		}
	}

	envInt("DESKMATE_PORT", &cfg.Server.Port)
	envString("DESKMATE_API_TOKEN", &cfg.Server.APIToken)
	envString("DESKMATE_OLLAMA_URL", &cfg.Ollama.BaseURL)
	envString("DESKMATE_CHAT_MODEL", &cfg.Ollama.ChatModel)
	envString("DESKMATE_CLASSIFY_MODEL", &cfg.Ollama.ClassifyModel)
	envString("DESKMATE_EMBED_MODEL", &cfg.Ollama.EmbedModel)
	envString("DESKMATE_DATA_DIR", &cfg.Storage.DataDir)
	envString("DESKMATE_KB_DEFAULT_DIR", &cfg.Knowledge.DefaultDir)
	envString("DESKMATE_KB_UPLOAD_DIR", &cfg.Knowledge.UploadDir)
	envInt("DESKMATE_CHUNK_SIZE", &cfg.Ingest.ChunkSize)
	envInt("DESKMATE_CHUNK_OVERLAP", &cfg.Ingest.ChunkOverlap)
	envInt("DESKMATE_TOP_K", &cfg.Retrieval.TopK)
	envInt("DESKMATE_HISTORY_WINDOW", &cfg.History.Window)
	envString("DESKMATE_LOG_LEVEL", &cfg.Log.Level)

	if v := os.Getenv("DESKMATE_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.MinConfidence = f
		}
	}
}
