/**
 * Service configuration for the extraction engine binaries
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds service configuration
type Config struct {
	// Logging
	LogLevel string

	// Cache configuration
	CacheBackend    string // memory | sqlite | redis | postgres | none
	CacheDir        string
	CacheTTLSeconds int

	// Redis configuration (cache backend, queue broker, job status)
	RedisURL string

	// PostgreSQL configuration (cache backend)
	DatabaseURL string

	// Qdrant vector database configuration (chunk sink, disabled when empty)
	QdrantURL        string
	QdrantCollection string

	// GraphRAG document sink (disabled when empty)
	GraphRAGURL string

	// Embedding API for custom embedding models
	EmbeddingAPIURL string
	EmbeddingAPIKey string

	// HTTP API
	HTTPAddr       string
	MaxUploadBytes int64

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds
	QueueName         string

	// Tesseract configuration
	TessdataPrefix string

	// Remote vision OCR service (registers the "vision" backend when set)
	VisionOCRURL string

	// Default extraction config file (JSON, YAML or TOML)
	ExtractionConfigFile string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		CacheBackend:         getEnvOrDefault("CACHE_BACKEND", "memory"),
		CacheDir:             getEnvOrDefault("CACHE_DIR", ".extraction-cache"),
		CacheTTLSeconds:      getEnvAsIntOrDefault("CACHE_TTL_SECONDS", 7*24*3600),
		RedisURL:             getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:          getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:            getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:     getEnvOrDefault("QDRANT_COLLECTION", "extraction_chunks"),
		GraphRAGURL:          getEnvOrDefault("GRAPHRAG_URL", ""),
		EmbeddingAPIURL:      getEnvOrDefault("EMBEDDING_API_URL", "https://api.voyageai.com/v1/embeddings"),
		EmbeddingAPIKey:      getEnvOrDefault("EMBEDDING_API_KEY", ""),
		HTTPAddr:             getEnvOrDefault("HTTP_ADDR", ":8000"),
		MaxUploadBytes:       getEnvAsInt64OrDefault("MAX_UPLOAD_BYTES", 100*1024*1024), // 100MB
		WorkerConcurrency:    getEnvAsIntOrDefault("WORKER_CONCURRENCY", 10),
		ProcessingTimeout:    getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		QueueName:            getEnvOrDefault("QUEUE_NAME", "extraction"),
		TessdataPrefix:       getEnvOrDefault("TESSDATA_PREFIX", ""),
		VisionOCRURL:         getEnvOrDefault("VISION_OCR_URL", ""),
		ExtractionConfigFile: getEnvOrDefault("EXTRACTION_CONFIG", ""),
	}

	if cfg.CacheBackend == "postgres" {
		cfg.DatabaseURL = getEnvOrThrow("DATABASE_URL")
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case "memory", "sqlite", "redis", "postgres", "none":
	default:
		return fmt.Errorf("CACHE_BACKEND must be one of memory, sqlite, redis, postgres, none, got %q", c.CacheBackend)
	}

	if c.CacheBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis cache backend")
	}

	if c.CacheBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres cache backend")
	}

	if c.CacheTTLSeconds < 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must not be negative, got %d", c.CacheTTLSeconds)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxUploadBytes < 1024 || c.MaxUploadBytes > 10737418240 { // 1KB to 10GB
		return fmt.Errorf("MAX_UPLOAD_BYTES must be between 1KB and 10GB, got %d", c.MaxUploadBytes)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrThrow gets environment variable or panics
func getEnvOrThrow(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
