package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RAG      RAGConfig      `yaml:"rag"`
	Loader   LoaderConfig   `yaml:"loader"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	LLM      LLMConfig      `yaml:"llm"`
	VectorDB VectorDBConfig `yaml:"vector_db"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// RAGConfig is the explicit tuning record for chunking and retrieval.
type RAGConfig struct {
	ChunkSize        int           `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap     int           `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	TopK             int           `yaml:"top_k" validate:"gt=0,lte=100"`
	RetryCount       int           `yaml:"retry_count" validate:"gte=1,lte=10"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	DedupPrefix      int           `yaml:"dedup_prefix" validate:"gt=0"`
	Workers          int           `yaml:"workers" validate:"gt=0,lte=64"`
	CollectionPrefix string        `yaml:"collection_prefix"`
	EncryptionKey    string        `yaml:"encryption_key"`
}

type LoaderConfig struct {
	Root    string   `yaml:"root"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// LLMConfig configures either the embedding provider or the answer generator.
type LLMConfig struct {
	Provider          string        `yaml:"provider" validate:"omitempty,oneof=ollama openai hash"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Key               string        `yaml:"key"`
	Dimension         int           `yaml:"dimension" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout"`
}

type VectorDBConfig struct {
	Provider string        `yaml:"provider" validate:"required,oneof=chromem qdrant pgvector"`
	Path     string        `yaml:"path"`
	InMemory bool          `yaml:"in_memory"`
	Compress bool          `yaml:"compress"`
	URL      string        `yaml:"url" validate:"required_if=Provider qdrant"`
	APIKey   string        `yaml:"api_key"`
	Metric   string        `yaml:"metric"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DatabaseConfig is used by the pgvector backend.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type CacheConfig struct {
	Type          string        `yaml:"type" validate:"omitempty,oneof=none memory redis"`
	Size          int           `yaml:"size" validate:"gte=0"`
	RedisAddr     string        `yaml:"redis_addr" validate:"required_if=Type redis"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	defaultTopK         = 5
	defaultRetryCount   = 3
	defaultRetryBackoff = 500 * time.Millisecond
	defaultDedupPrefix  = 200
	defaultWorkers      = 4
	defaultPrefix       = "kb_"
)

// environment overrides for secrets and endpoints
const (
	EnvEmbedAPIKey   = "RAG_EMBED_API_KEY"
	EnvLLMAPIKey     = "RAG_LLM_API_KEY"
	EnvVectorAPIKey  = "RAG_VECTOR_API_KEY"
	EnvVectorDSN     = "RAG_VECTOR_DSN"
	EnvEncryptionKey = "RAG_ENCRYPTION_KEY"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	explicitOverlap := false
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		explicitOverlap = overlapSet(data)
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if !explicitOverlap {
		cfg.RAG.ChunkOverlap = defaultOverlap(cfg.RAG.ChunkSize)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration for a local Ollama + chromem setup.
func Default() *Config {
	cfg := &Config{
		Loader: LoaderConfig{Root: "./docs"},
		EmbedLLM: LLMConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "nomic-embed-text",
		},
		VectorDB: VectorDBConfig{
			Provider: "chromem",
			Path:     "./chromemdb",
		},
		Cache:  CacheConfig{Type: "memory", Size: 4096},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Pretty: true},
	}
	applyDefaults(cfg)
	cfg.RAG.ChunkOverlap = defaultOverlap(cfg.RAG.ChunkSize)
	return cfg
}

// overlapSet reports whether the file states rag.chunk_overlap, so that an
// explicit 0 is kept.
func overlapSet(data []byte) bool {
	var raw struct {
		RAG struct {
			ChunkOverlap *int `yaml:"chunk_overlap"`
		} `yaml:"rag"`
	}
	return yaml.Unmarshal(data, &raw) == nil && raw.RAG.ChunkOverlap != nil
}

func defaultOverlap(size int) int {
	if size > defaultChunkOverlap {
		return defaultChunkOverlap
	}
	return 0
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvEmbedAPIKey); v != "" {
		cfg.EmbedLLM.Key = v
	}
	if v := os.Getenv(EnvLLMAPIKey); v != "" {
		cfg.LLM.Key = v
	}
	if v := os.Getenv(EnvVectorAPIKey); v != "" {
		cfg.VectorDB.APIKey = v
	}
	if v := os.Getenv(EnvVectorDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(EnvEncryptionKey); v != "" {
		cfg.RAG.EncryptionKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = defaultChunkSize
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = defaultTopK
	}
	if cfg.RAG.RetryCount == 0 {
		cfg.RAG.RetryCount = defaultRetryCount
	}
	if cfg.RAG.RetryBackoff == 0 {
		cfg.RAG.RetryBackoff = defaultRetryBackoff
	}
	if cfg.RAG.DedupPrefix == 0 {
		cfg.RAG.DedupPrefix = defaultDedupPrefix
	}
	if cfg.RAG.Workers == 0 {
		cfg.RAG.Workers = defaultWorkers
	}
	if cfg.RAG.CollectionPrefix == "" {
		cfg.RAG.CollectionPrefix = defaultPrefix
	}
	if cfg.EmbedLLM.Timeout == 0 {
		cfg.EmbedLLM.Timeout = 30 * time.Second
	}
	if cfg.VectorDB.Timeout == 0 {
		cfg.VectorDB.Timeout = 10 * time.Second
	}
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "none"
	}
	if cfg.Cache.Type == "memory" && cfg.Cache.Size == 0 {
		cfg.Cache.Size = 4096
	}
}
