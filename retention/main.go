// Retention is an optional ops binary: on an interval it purges articles
// whose added date is older than the configured maximum age.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insightdash/insights-backend/internal/config"
	"github.com/insightdash/insights-backend/internal/elasticsearch"
	"github.com/insightdash/insights-backend/internal/logger"
)

func main() {
	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if !waitForStore(ctx, log, esClient) {
		os.Exit(1)
	}

	log.Info("retention job running",
		slog.Duration("interval", cfg.Interval),
		slog.Duration("max_age", cfg.MaxAge),
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	purgeOnce(ctx, log, esClient, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			purgeOnce(ctx, log, esClient, cfg)
		}
	}
}

// waitForStore pings Elasticsearch with capped exponential backoff until it
// answers or the context is canceled.
func waitForStore(ctx context.Context, log *slog.Logger, esClient *elasticsearch.Client) bool {
	delay := 2 * time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := esClient.Ping(pingCtx)
		cancel()
		if err == nil {
			log.Info("connected to elasticsearch")
			return true
		}

		log.Warn("elasticsearch not ready, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}

		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}

	log.Error("failed to connect to elasticsearch after retries")
	return false
}

func purgeOnce(ctx context.Context, log *slog.Logger, esClient *elasticsearch.Client, cfg *config.Retention) {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	deleted, err := esClient.DeleteOlderThan(subCtx, cfg.MaxAge, cfg.BatchSize)
	if err != nil {
		log.Warn("purge run failed (will retry on next interval)", slog.Any("err", err))
		return
	}

	if deleted > 0 {
		log.Info("purge run completed", slog.Int64("deleted", deleted))
	} else {
		log.Debug("purge run completed, no stale articles found")
	}
}
