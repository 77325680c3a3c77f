package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/insightdash/insights-backend/internal/config"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "")
	t.Setenv("ELASTICSEARCH_INDEX", "")
	t.Setenv("API_BIND_ADDR", "")
	t.Setenv("API_PAGE_SIZE", "")
	t.Setenv("API_MAX_PAGE_SIZE", "")
	t.Setenv("API_CORS_ORIGINS", "")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)

	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "articles", cfg.ElasticsearchIndex)
	require.Equal(t, "0.0.0.0:8080", cfg.BindAddr)
	require.Equal(t, 20, cfg.DefaultLimit)
	require.Equal(t, 1000, cfg.MaxLimit)
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoadAPIOverrides(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "http://localhost:9999")
	t.Setenv("ELASTICSEARCH_INDEX", "insights")
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("API_PAGE_SIZE", "50")
	t.Setenv("API_MAX_PAGE_SIZE", "500")
	t.Setenv("API_CORS_ORIGINS", "https://dash.example.com, https://admin.example.com")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)

	require.Equal(t, "http://localhost:9999", cfg.ElasticsearchAddr)
	require.Equal(t, "insights", cfg.ElasticsearchIndex)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 50, cfg.DefaultLimit)
	require.Equal(t, 500, cfg.MaxLimit)
	require.Equal(t, []string{"https://dash.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
}

func TestLoadAPIRejectsDefaultAboveMax(t *testing.T) {
	t.Setenv("API_PAGE_SIZE", "200")
	t.Setenv("API_MAX_PAGE_SIZE", "100")

	_, err := config.LoadAPI()
	require.Error(t, err)
}

func TestLoadLoader(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-a:29092,broker-b:29093")
	t.Setenv("KAFKA_TOPIC", "articles_in")
	t.Setenv("KAFKA_CONSUMER_GROUP", "loader-blue")
	t.Setenv("LOADER_DEDUPE_CAPACITY", "5")
	t.Setenv("LOADER_DEDUPE_TTL", "48h")

	cfg, err := config.LoadLoader()
	require.NoError(t, err)

	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.KafkaBrokers)
	require.Equal(t, "articles_in", cfg.KafkaTopic)
	require.Equal(t, "loader-blue", cfg.KafkaGroup)
	require.Equal(t, 5, cfg.DedupeCapacity)
	require.Equal(t, 48*time.Hour, cfg.DedupeTTL)
}

func TestLoadRetention(t *testing.T) {
	t.Setenv("RETENTION_INTERVAL", "12h")
	t.Setenv("RETENTION_MAX_AGE", "8760h")
	t.Setenv("RETENTION_BATCH_SIZE", "250")

	cfg, err := config.LoadRetention()
	require.NoError(t, err)

	require.Equal(t, 12*time.Hour, cfg.Interval)
	require.Equal(t, 8760*time.Hour, cfg.MaxAge)
	require.Equal(t, 250, cfg.BatchSize)
}

func TestLoadRetentionRequiresMaxAge(t *testing.T) {
	t.Setenv("RETENTION_MAX_AGE", "")

	_, err := config.LoadRetention()
	require.Error(t, err)
}
