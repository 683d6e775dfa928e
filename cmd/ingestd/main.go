// ingestd wires the ingestion pipeline: broker, store, dispatcher, and
// optionally a Redis-backed external queue consumer. When no Redis address
// is configured it runs a mock producer so the pipeline has traffic to chew
// on locally.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/streamweld/ingest"
	"github.com/streamweld/ingest/adapter/queue"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigC := make(chan os.Signal, 1)
		signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
		<-sigC
		cancel()
	}()

	logCfg := zerolog.Config{Console: true}
	if os.Getenv("LOG_DEBUG") != "" {
		logCfg.MinLevel = xlog.LevelDebug
	}
	logger := zerolog.Use(logCfg).With(xlog.Str("service", "data-ingestion"))

	pipeline, err := ingest.NewPipelineBuilder().
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Error().Err(err).Msg("failed to build pipeline")
		os.Exit(1)
	}
	defer func() { _ = pipeline.Close(context.Background()) }()

	if err := pipeline.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start pipeline")
		os.Exit(1)
	}

	ingestor := queue.NewIngestor(pipeline.Broker, logger)

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		consumer := queue.NewConsumer(queue.ConsumerConfig{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			Key:      os.Getenv("QUEUE_KEY"),
		}, ingestor, logger)
		defer func() { _ = consumer.Close() }()

		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("queue consumer stopped")
				cancel()
			}
		}()
	} else {
		logger.Info().Msg("REDIS_ADDR not set, starting mock queue producer")
		go mockProducer(ctx, ingestor, logger)
	}

	go statsLoop(ctx, pipeline, logger)

	logger.Info().Msg("data ingestion system initialized")
	<-ctx.Done()
	logger.Info().Msg("shutdown complete")
}

// mockProducer publishes small random batches at an interval, standing in
// for the external queue during local runs.
func mockProducer(ctx context.Context, ingestor *queue.Ingestor, logger *xlog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := rand.Intn(5) + 1
			batch := make([]any, 0, count)
			for i := 0; i < count; i++ {
				id := rand.Intn(10000)
				batch = append(batch, map[string]any{
					"id":    id,
					"name":  fmt.Sprintf("Queue Item %d", id),
					"value": rand.Intn(100),
				})
			}
			correlationID := ingest.NewCorrelationID()
			if _, err := ingestor.Ingest(ctx, batch, correlationID); err != nil {
				logger.Warn().Err(err).Msg("mock publish failed")
			}
		}
	}
}

// statsLoop logs the observability snapshot periodically.
func statsLoop(ctx context.Context, pipeline *ingest.Pipeline, logger *xlog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pipeline.Stats()
			logger.Info().
				Int("total_records", stats.Datastore.TotalRecords).
				Int("unique_ids", stats.Datastore.UniqueIDs).
				Int("pending_ingestion", stats.Queues.Queues[ingest.TopicIngestion]).
				Int("dead_letters", stats.Queues.DeadLetterCount).
				Msg("pipeline stats")
		}
	}
}
