package api

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xlog"

	"github.com/streamweld/ingest"
)

// Result reports one completed API ingestion run.
type Result struct {
	Count int `json:"count"`
}

// Ingestor fetches, validates and publishes API record batches.
type Ingestor struct {
	client *Client
	broker *ingest.Broker
	logger *xlog.Logger
}

// NewIngestor constructs an Ingestor. A nil logger takes the process
// default.
func NewIngestor(client *Client, broker *ingest.Broker, logger *xlog.Logger) *Ingestor {
	if logger == nil {
		logger = xlog.Default()
	}
	return &Ingestor{client: client, broker: broker, logger: logger}
}

// Run fetches every page of the endpoint, validates the whole batch and
// publishes it on the ingestion topic under the "api" source tag. A schema
// violation rejects the entire batch before anything reaches the broker.
func (i *Ingestor) Run(ctx context.Context, endpoint, correlationID string) (Result, error) {
	log := i.logger.With(xlog.Str("correlation_id", correlationID))

	data, err := i.client.FetchAllPages(ctx, endpoint)
	if err != nil {
		log.Error().Err(err).Msg("api ingestion failed")
		return Result{}, fmt.Errorf("api ingestion: %w", err)
	}

	if err := validateBatch(data, correlationID); err != nil {
		log.Error().Err(err).Msg("api data validation failed")
		return Result{}, err
	}

	if _, err := i.broker.Publish(ctx, ingest.TopicIngestion, data, ingest.Metadata{
		Source:        ingest.SourceAPI,
		CorrelationID: correlationID,
	}); err != nil {
		return Result{}, err
	}

	log.Info().Int("records", len(data)).Msg("published api records for processing")
	return Result{Count: len(data)}, nil
}

// validateBatch enforces the API schema: every record needs an id and a
// string name. One bad record rejects the batch.
func validateBatch(records []ingest.Record, correlationID string) error {
	var errs []string
	for idx, r := range records {
		if _, ok := r.ID(); !ok {
			errs = append(errs, fmt.Sprintf("item at index %d is missing an id", idx))
		}
		if _, ok := r["name"].(string); !ok {
			errs = append(errs, fmt.Sprintf("item at index %d has invalid name", idx))
		}
	}
	if len(errs) > 0 {
		return &ingest.ValidationError{CorrelationID: correlationID, Errs: errs}
	}
	return nil
}
