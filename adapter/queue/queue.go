// Package queue ingests messages arriving from an external queue: a decoded
// payload — one object or an array of objects — is normalized into a record
// batch and published on the ingestion topic. The Consumer drains a Redis
// list as the concrete external queue.
package queue

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xlog"

	"github.com/streamweld/ingest"
)

// Normalize turns a decoded JSON payload into a record batch. A single
// object becomes a one-element batch; an array must contain only objects.
func Normalize(payload any) ([]ingest.Record, error) {
	switch v := payload.(type) {
	case map[string]any:
		return []ingest.Record{ingest.Record(v)}, nil
	case []any:
		records := make([]ingest.Record, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &ingest.ValidationError{
					Errs: []string{fmt.Sprintf("element at index %d is not an object", i)},
				}
			}
			records = append(records, ingest.Record(obj))
		}
		return records, nil
	default:
		return nil, &ingest.ValidationError{
			Errs: []string{"invalid queue message format"},
		}
	}
}

// Ingestor normalizes and publishes external queue payloads.
type Ingestor struct {
	broker *ingest.Broker
	logger *xlog.Logger
}

// NewIngestor constructs an Ingestor. A nil logger takes the process
// default.
func NewIngestor(broker *ingest.Broker, logger *xlog.Logger) *Ingestor {
	if logger == nil {
		logger = xlog.Default()
	}
	return &Ingestor{broker: broker, logger: logger}
}

// Ingest normalizes one queue payload and publishes it under the
// "external-queue" source tag, returning the record count. Empty batches
// publish nothing.
func (i *Ingestor) Ingest(ctx context.Context, payload any, correlationID string) (int, error) {
	log := i.logger.With(xlog.Str("correlation_id", correlationID))

	records, err := Normalize(payload)
	if err != nil {
		log.Error().Err(err).Msg("queue message rejected")
		return 0, err
	}
	if len(records) == 0 {
		log.Debug().Msg("empty queue message, nothing to publish")
		return 0, nil
	}

	if _, err := i.broker.Publish(ctx, ingest.TopicIngestion, records, ingest.Metadata{
		Source:        ingest.SourceQueue,
		CorrelationID: correlationID,
	}); err != nil {
		return 0, err
	}

	log.Info().Int("records", len(records)).Msg("published queue records for processing")
	return len(records), nil
}
