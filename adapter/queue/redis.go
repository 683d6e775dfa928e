package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xlog"

	"github.com/streamweld/ingest"
)

// ConsumerConfig controls the Redis list consumer.
type ConsumerConfig struct {
	// Connection
	Addr     string
	Username string
	Password string
	DB       int

	// Key is the list the external system pushes JSON payloads to
	// (default: "external-queue").
	Key string
	// Block is the BLPOP timeout per poll (default: 5s).
	Block time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:6379"
	}
	if c.Key == "" {
		c.Key = "external-queue"
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	return c
}

// Consumer drains an external Redis list and feeds each payload through the
// queue Ingestor with a fresh correlation id.
type Consumer struct {
	cfg      ConsumerConfig
	client   *redis.Client
	ingestor *Ingestor
	logger   *xlog.Logger
}

// NewConsumer constructs a Consumer. A nil logger takes the process default.
func NewConsumer(cfg ConsumerConfig, ingestor *Ingestor, logger *xlog.Logger) *Consumer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = xlog.Default()
	}
	return &Consumer{
		cfg: cfg,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ingestor: ingestor,
		logger:   logger,
	}
}

// Run polls the list until the context is canceled. Malformed payloads and
// ingest failures are logged and skipped; the loop only stops with the
// context.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().
		Str("addr", c.cfg.Addr).
		Str("key", c.cfg.Key).
		Msg("external queue consumer started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := c.client.BLPop(ctx, c.cfg.Block, c.cfg.Key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Msg("blpop failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		// BLPOP returns [key, value].
		if len(res) < 2 {
			continue
		}

		correlationID := ingest.NewCorrelationID()
		var payload any
		if err := json.Unmarshal([]byte(res[1]), &payload); err != nil {
			c.logger.Warn().
				Str("correlation_id", correlationID).
				Err(err).
				Msg("discarding undecodable queue payload")
			continue
		}

		if _, err := c.ingestor.Ingest(ctx, payload, correlationID); err != nil {
			c.logger.Warn().
				Str("correlation_id", correlationID).
				Err(err).
				Msg("queue message processing failed")
		}
	}
}

// Close releases the Redis connection.
func (c *Consumer) Close() error {
	return c.client.Close()
}
