// The loader is the out-of-band creation path for articles: it consumes
// raw article JSON from Kafka, normalizes each document, and indexes it.
// The HTTP API deliberately has no create endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/insightdash/insights-backend/internal/config"
	"github.com/insightdash/insights-backend/internal/dedupe"
	"github.com/insightdash/insights-backend/internal/elasticsearch"
	"github.com/insightdash/insights-backend/internal/logger"
	"github.com/insightdash/insights-backend/internal/models"
)

type articleIndexer interface {
	IndexArticle(ctx context.Context, doc models.Article) error
}

func main() {
	log := logger.New("loader")
	cfg, err := config.LoadLoader()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	cache := dedupe.New(cfg.DedupeCapacity, cfg.DedupeTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaGroup,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic + "_dlq",
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("loader started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaGroup),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, esClient, cache, msg); err != nil {
			log.Warn("process message failed, parking in DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			if !parkInDLQ(ctx, log, dlqWriter, msg, err) {
				// Leave the offset uncommitted so the message is
				// reprocessed after a restart instead of being lost.
				log.Error("DLQ write exhausted retries, skipping commit",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// parkInDLQ writes the failed message to the dead-letter topic with error
// context, retrying with exponential backoff. Returns false when every
// attempt failed or the context was canceled.
func parkInDLQ(ctx context.Context, log *slog.Logger, w *kafka.Writer, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	backoff := time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		if err := w.WriteMessages(ctx, dlqMsg); err == nil {
			log.Info("message parked in DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt),
			)
			return true
		} else {
			log.Warn("DLQ write failed, retrying",
				slog.Any("err", err),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		backoff *= 2
	}
	return false
}

func processMessage(ctx context.Context, log *slog.Logger, store articleIndexer, cache *dedupe.Cache, msg kafka.Message) error {
	var doc models.Article
	if err := json.Unmarshal(msg.Value, &doc); err != nil {
		return fmt.Errorf("decode article: %w", err)
	}

	doc.Title = models.NormalizeTitle(doc.Title)
	if doc.Title == "" && len(doc.Extra) == 0 {
		return errors.New("empty document")
	}

	if doc.Added.IsZero() {
		doc.Added = time.Now().UTC()
	}

	// Keep a supplied well-formed id; otherwise derive a stable one from
	// the content so replays collapse onto the same document.
	if models.ValidateID(doc.ID) != nil {
		if doc.Title != "" {
			doc.ID = models.DeriveID(doc.Source, doc.Title, doc.Published)
		} else {
			doc.ID = uuid.NewString()
		}
	}

	if cache.Contains(doc.ID) {
		log.Debug("duplicate article", slog.String("id", doc.ID))
		return nil
	}

	if err := store.IndexArticle(ctx, doc); err != nil {
		return err
	}

	cache.Add(doc.ID)
	log.Info("indexed article", slog.String("id", doc.ID), slog.String("title", doc.Title))
	return nil
}
