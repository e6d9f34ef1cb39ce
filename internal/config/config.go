// Package config holds the explicit configuration value passed into every
// component constructor. There is no process-wide default; callers build a
// Config once and hand it down.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kalambet/aidbud/internal/chunk"
)

// Config groups all tunables for the assistant pipeline.
type Config struct {
	Memory  MemoryConfig
	Context ContextConfig
	Model   ModelConfig
	Media   MediaConfig
	Server  ServerConfig
}

// MemoryConfig controls chunking, embedding, and retrieval.
type MemoryConfig struct {
	// DataDir holds the sqlite database backing the vector collections.
	// ":memory:" opens an in-memory database (used by tests).
	DataDir string
	// MaxTokens is the embedding model's input limit per chunk.
	MaxTokens int
	// Overlap is the token overlap between consecutive chunks.
	Overlap int
	// TopK is the retrieval depth for both collections.
	TopK int
	// EmbedModel names the embedding model used by the default embedder.
	EmbedModel string
}

// ContextConfig controls the persisted situation snapshot.
type ContextConfig struct {
	// SnapshotPath is the JSON file holding the three context toggles.
	SnapshotPath string
}

// ModelConfig configures the generative collaborator.
type ModelConfig struct {
	// Model names the chat model used by the default generator.
	Model string
	// APIKey authenticates against the model provider.
	APIKey string
	// BaseURL overrides the provider endpoint (empty uses the default).
	BaseURL string
}

// MediaConfig controls attachment preparation.
type MediaConfig struct {
	// Workers bounds the parallel media preparation pool per turn.
	Workers int
	// FetchTimeoutSeconds caps remote attachment downloads.
	FetchTimeoutSeconds int
}

// ServerConfig configures the optional local front ends.
type ServerConfig struct {
	Port int
}

// Default returns the baseline configuration.
func Default() Config {
	dataDir := defaultDataDir()
	return Config{
		Memory: MemoryConfig{
			DataDir:    dataDir,
			MaxTokens:  512,
			Overlap:    50,
			TopK:       5,
			EmbedModel: "text-embedding-3-small",
		},
		Context: ContextConfig{
			SnapshotPath: filepath.Join(dataDir, "situation.json"),
		},
		Model: ModelConfig{
			Model: "gpt-4o-mini",
		},
		Media: MediaConfig{
			Workers:             4,
			FetchTimeoutSeconds: 10,
		},
		Server: ServerConfig{
			Port: 4600,
		},
	}
}

// Load builds a Config from defaults and environment overrides, then
// validates it. Chunk-budget problems are rejected here, not at runtime.
func Load() (Config, error) {
	cfg := Default()
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make chunking undefined. A
// structured record budget of maxTokens - chunk.RecordOverhead must stay
// positive or the chunk window could never advance.
func (c Config) Validate() error {
	if c.Memory.MaxTokens <= 0 {
		return fmt.Errorf("invalid config: memory.max_tokens must be positive, got %d", c.Memory.MaxTokens)
	}
	if c.Memory.Overlap < 0 {
		return fmt.Errorf("invalid config: memory.overlap must not be negative, got %d", c.Memory.Overlap)
	}
	if c.Memory.Overlap >= c.Memory.MaxTokens {
		return fmt.Errorf("invalid config: memory.overlap %d must be smaller than memory.max_tokens %d", c.Memory.Overlap, c.Memory.MaxTokens)
	}
	if c.Memory.MaxTokens-chunk.RecordOverhead <= 0 {
		return fmt.Errorf("invalid config: memory.max_tokens %d leaves no room for the %d-token record overhead", c.Memory.MaxTokens, chunk.RecordOverhead)
	}
	if c.Memory.TopK <= 0 {
		return fmt.Errorf("invalid config: memory.top_k must be positive, got %d", c.Memory.TopK)
	}
	if c.Media.Workers <= 0 {
		return fmt.Errorf("invalid config: media.workers must be positive, got %d", c.Media.Workers)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Memory.DataDir, "AIDBUD_DATA_DIR")
	setInt(&cfg.Memory.MaxTokens, "AIDBUD_MAX_TOKENS")
	setInt(&cfg.Memory.Overlap, "AIDBUD_OVERLAP")
	setInt(&cfg.Memory.TopK, "AIDBUD_TOP_K")
	setString(&cfg.Memory.EmbedModel, "AIDBUD_EMBED_MODEL")
	setString(&cfg.Context.SnapshotPath, "AIDBUD_SITUATION_PATH")
	setString(&cfg.Model.Model, "AIDBUD_MODEL")
	setString(&cfg.Model.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Model.APIKey, "AIDBUD_API_KEY")
	setString(&cfg.Model.BaseURL, "AIDBUD_BASE_URL")
	setInt(&cfg.Media.Workers, "AIDBUD_MEDIA_WORKERS")
	setInt(&cfg.Server.Port, "AIDBUD_PORT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "aidbud")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aidbud"
	}
	return filepath.Join(home, ".local", "share", "aidbud")
}
