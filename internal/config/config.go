package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	BackendWeaviate = "weaviate"
	BackendQdrant   = "qdrant"
)

type Config struct {
	// WordPress
	WPBaseURL     string `envconfig:"WP_BASE_URL"`
	WPPostsPath   string `envconfig:"WP_POSTS_PATH" default:"/wp-json/wp/v2/posts"`
	WPPerPage     int    `envconfig:"WP_PER_PAGE" default:"100"`
	WPMaxPosts    int    `envconfig:"WP_MAX_POSTS" default:"0"` // 0 = unlimited
	WPUsername    string `envconfig:"WP_USERNAME"`
	WPAppPassword string `envconfig:"WP_APP_PASSWORD"`

	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"wprag"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"wprag"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	VectorBackend    string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost     string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme   string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass    string `envconfig:"WEAVIATE_CLASS" default:"PostChunk"`
	QdrantAddr       string `envconfig:"QDRANT_ADDR" default:"qdrant:6334"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"wp_posts"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// RAG tuning
	ChunkSize        int    `envconfig:"CHUNK_SIZE" default:"1200"`
	ChunkOverlap     int    `envconfig:"CHUNK_OVERLAP" default:"180"`
	TopK             int    `envconfig:"TOP_K" default:"6"`
	MaxContextChunks int    `envconfig:"MAX_CONTEXT_CHUNKS" default:"6"`
	AnswerLanguage   string `envconfig:"ANSWER_LANGUAGE"`

	// Providers
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	LLMProvider       string `envconfig:"LLM_PROVIDER" default:"openai"`

	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIEmbeddingModel string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	OpenAIResponsesModel string `envconfig:"OPENAI_RESPONSES_MODEL" default:"gpt-5-mini"`

	GeminiAPIKey         string  `envconfig:"GEMINI_API_KEY"`
	GeminiEmbeddingModel string  `envconfig:"GEMINI_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	GeminiGenerateModel  string  `envconfig:"GEMINI_GENERATE_MODEL" default:"gemini-2.5-flash"`
	GeminiEmbedRPS       float64 `envconfig:"GEMINI_EMBED_RPS" default:"5"`

	// Timeouts
	HTTPTimeoutSeconds       int `envconfig:"HTTP_TIMEOUT_SECONDS" default:"60"`
	GenerationTimeoutSeconds int `envconfig:"GENERATION_TIMEOUT_SECONDS" default:"90"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"INFO"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	cfg.VectorBackend = strings.ToLower(strings.TrimSpace(cfg.VectorBackend))
	cfg.EmbeddingProvider = strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.WPBaseURL == "" {
		return fmt.Errorf("%w: WP_BASE_URL", ErrMissingRequired)
	}
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch strings.ToLower(c.VectorBackend) {
	case BackendWeaviate, BackendQdrant:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalid, c.VectorBackend)
	}
	if !validProvider(c.EmbeddingProvider) {
		return fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", ErrInvalid, c.EmbeddingProvider)
	}
	if !validProvider(c.LLMProvider) {
		return fmt.Errorf("%w: LLM_PROVIDER=%q", ErrInvalid, c.LLMProvider)
	}

	if c.WPPerPage < 1 || c.WPPerPage > 100 {
		return fmt.Errorf("%w: WP_PER_PAGE must be between 1 and 100", ErrInvalid)
	}
	if c.TopK < 1 {
		return fmt.Errorf("%w: TOP_K must be positive", ErrInvalid)
	}
	if c.MaxContextChunks < 1 || c.MaxContextChunks > c.TopK {
		return fmt.Errorf("%w: MAX_CONTEXT_CHUNKS must be between 1 and TOP_K", ErrInvalid)
	}
	return nil
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func validProvider(p string) bool {
	switch strings.ToLower(p) {
	case ProviderOpenAI, ProviderGemini:
		return true
	}
	return false
}
