package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/wintrouble/backend/internal/chunker"
)

const (
	VectorMemory = "memory"
	VectorMilvus = "milvus"
	VectorQdrant = "qdrant"

	ProviderOpenAI  = "openai"
	ProviderOffline = "offline"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Vector    VectorConfig
	Zilliz    ZillizConfig
	Qdrant    QdrantConfig
	Redis     RedisConfig
	Neo4j     Neo4jConfig
	LLM       LLMConfig
	Query     QueryConfig
	Chunker   ChunkerConfig
	Ingestion IngestionConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit   int
	CORSOrigins string
	UploadDir   string
}

type SQLiteConfig struct {
	Path string
}

type VectorConfig struct {
	Backend string
	// MemoryPath is where the memory backend keeps its snapshot; empty keeps
	// vectors in process only.
	MemoryPath string
}

type ZillizConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
}

type QdrantConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	CollectionName string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type QueryConfig struct {
	EscalationThreshold float64
	TopK                int
}

type ChunkerConfig struct {
	MaxChars int
	Overlap  int
}

type IngestionConfig struct {
	Workers int
	Dir     string
	Source  string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads .env (when present), then config.yaml from the usual locations
// or configFile when set, then WINTROUBLE_* environment variables.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/wintrouble")
	}

	v.SetEnvPrefix("WINTROUBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.apiKey", "WINTROUBLE_LLM_APIKEY", "OPENAI_API_KEY")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if _, err := chunker.New(c.Chunker.MaxChars, c.Chunker.Overlap); err != nil {
		return fmt.Errorf("chunker: %w", err)
	}

	switch c.Vector.Backend {
	case VectorMemory, VectorMilvus, VectorQdrant:
	default:
		return fmt.Errorf("vector.backend: unknown backend %q", c.Vector.Backend)
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderOffline:
	default:
		return fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider)
	}

	if c.Query.EscalationThreshold < 0 || c.Query.EscalationThreshold > 100 {
		return fmt.Errorf("query.escalationThreshold must be within 0-100, got %v", c.Query.EscalationThreshold)
	}
	if c.LLM.EmbeddingDim <= 0 {
		return fmt.Errorf("llm.embeddingDim must be positive, got %d", c.LLM.EmbeddingDim)
	}
	if c.SQLite.Path == "" {
		return errors.New("sqlite.path is required")
	}
	if c.Ingestion.Source == "" || strings.Contains(c.Ingestion.Source, ":") {
		return fmt.Errorf("ingestion.source must be non-empty and free of ':', got %q", c.Ingestion.Source)
	}
	return nil
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 50*1024*1024)
	v.SetDefault("server.rateLimit", 100)
	v.SetDefault("server.corsOrigins", "*")
	v.SetDefault("server.uploadDir", "./data/uploads")

	v.SetDefault("sqlite.path", "./data/wintrouble.db")

	v.SetDefault("vector.backend", VectorMemory)
	v.SetDefault("vector.memoryPath", "./data/vectors.gob")

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.apiKey", "")
	v.SetDefault("zilliz.collectionName", "windows_docs")

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.apiKey", "")
	v.SetDefault("qdrant.useTLS", false)
	v.SetDefault("qdrant.collectionName", "windows_docs")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlHours", 24*7)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("query.escalationThreshold", 50.0)
	v.SetDefault("query.topK", 5)

	v.SetDefault("chunker.maxChars", 1000)
	v.SetDefault("chunker.overlap", 200)

	v.SetDefault("ingestion.workers", 4)
	v.SetDefault("ingestion.dir", "./data/documents")
	v.SetDefault("ingestion.source", "local_dir")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
	v.SetDefault("logging.maxSizeMB", 100)
	v.SetDefault("logging.maxBackups", 5)
	v.SetDefault("logging.maxAgeDays", 28)
}
