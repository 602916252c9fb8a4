package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Milvus    MilvusConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Cache     CacheConfig
	Retrieval RetrievalConfig
	Ingestion IngestionConfig
	Breaker   BreakerConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	MaxRequestsPerMinute int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	TimeoutSec     int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type CacheConfig struct {
	EmbeddingTTLSec     int
	SemanticTTLSec      int
	SemanticThreshold   float64
	SemanticMaxPerScope int
	MemoryMaxEntries    int
}

type RetrievalConfig struct {
	TopK                 int
	ScoreThreshold       float64
	RerankMultiplier     int
	MaxQueryVariants     int
	MaxConcurrentQueries int
	ExpansionTerms       int
}

type IngestionConfig struct {
	ChunkSize           int
	ChunkOverlap        int
	EmbedConcurrency    int
	EmbedBatchSize      int
	InlineSizeLimitMB   int
	QueueWorkers        int
	QueueDepth          int
}

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	TimeoutSec       int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/docuquery")

	viper.SetEnvPrefix("DOCUQUERY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 52428800)
	viper.SetDefault("server.maxRequestsPerMinute", 60)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "document_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)
	viper.SetDefault("milvus.timeoutSec", 10)

	viper.SetDefault("sqlite.path", "./data/docuquery.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("cache.embeddingTTLSec", 86400)
	viper.SetDefault("cache.semanticTTLSec", 3600)
	viper.SetDefault("cache.semanticThreshold", 0.90)
	viper.SetDefault("cache.semanticMaxPerScope", 64)
	viper.SetDefault("cache.memoryMaxEntries", 4096)

	viper.SetDefault("retrieval.topK", 10)
	viper.SetDefault("retrieval.scoreThreshold", 0.7)
	viper.SetDefault("retrieval.rerankMultiplier", 3)
	viper.SetDefault("retrieval.maxQueryVariants", 3)
	viper.SetDefault("retrieval.maxConcurrentQueries", 4)
	viper.SetDefault("retrieval.expansionTerms", 3)

	viper.SetDefault("ingestion.chunkSize", 1000)
	viper.SetDefault("ingestion.chunkOverlap", 100)
	viper.SetDefault("ingestion.embedConcurrency", 4)
	viper.SetDefault("ingestion.embedBatchSize", 64)
	viper.SetDefault("ingestion.inlineSizeLimitMB", 10)
	viper.SetDefault("ingestion.queueWorkers", 2)
	viper.SetDefault("ingestion.queueDepth", 32)

	viper.SetDefault("breaker.failureThreshold", 3)
	viper.SetDefault("breaker.successThreshold", 1)
	viper.SetDefault("breaker.timeoutSec", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
