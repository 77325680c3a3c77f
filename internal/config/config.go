package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common contains Elasticsearch parameters shared by every binary.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr     string
	DefaultLimit int
	MaxLimit     int
	CORSOrigins  []string
}

// Loader holds configuration for the Kafka -> Elasticsearch article loader.
type Loader struct {
	Common
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroup     string
	DedupeCapacity int
	DedupeTTL      time.Duration
}

// Retention configures the article purge loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "articles"),
	}
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common:       loadCommon(),
		BindAddr:     getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultLimit: getInt("API_PAGE_SIZE", 20),
		MaxLimit:     getInt("API_MAX_PAGE_SIZE", 1000),
		CORSOrigins:  splitAndTrim(getEnv("API_CORS_ORIGINS", "*")),
	}

	if c.DefaultLimit <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxLimit <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultLimit > c.MaxLimit {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}
	if len(c.CORSOrigins) == 0 {
		return nil, fmt.Errorf("API_CORS_ORIGINS must contain at least one origin")
	}

	return c, nil
}

// LoadLoader builds a Loader config from environment variables.
func LoadLoader() (*Loader, error) {
	c := &Loader{
		Common:         loadCommon(),
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "articles_raw"),
		KafkaGroup:     getEnv("KAFKA_CONSUMER_GROUP", "articles-loader"),
		DedupeCapacity: getInt("LOADER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("LOADER_DEDUPE_TTL", 24*time.Hour),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("LOADER_DEDUPE_CAPACITY must be positive")
	}
	if c.DedupeTTL <= 0 {
		return nil, fmt.Errorf("LOADER_DEDUPE_TTL must be positive")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:    loadCommon(),
		Interval:  getDuration("RETENTION_INTERVAL", 24*time.Hour),
		MaxAge:    getDuration("RETENTION_MAX_AGE", 0),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be set to a positive duration")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_INTERVAL must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
