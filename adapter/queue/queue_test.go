package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xlog"

	"github.com/streamweld/ingest"
)

func TestNormalizeSingleObject(t *testing.T) {
	records, err := Normalize(map[string]any{"id": float64(1), "name": "Queue Item 1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Queue Item 1", records[0]["name"])
}

func TestNormalizeArrayOfObjects(t *testing.T) {
	records, err := Normalize([]any{
		map[string]any{"id": float64(1)},
		map[string]any{"id": float64(2)},
		map[string]any{"id": float64(3)},
	})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestNormalizeRejectsNonObjectPayload(t *testing.T) {
	_, err := Normalize("not an object")
	var vErr *ingest.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestNormalizeRejectsMixedArray(t *testing.T) {
	_, err := Normalize([]any{
		map[string]any{"id": float64(1)},
		"rogue element",
	})
	var vErr *ingest.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Error(), "index 1")
}

func TestIngestPublishesUnderExternalQueueSource(t *testing.T) {
	broker := ingest.NewBroker(ingest.BrokerConfig{Logger: xlog.New()})
	defer func() { _ = broker.Close(context.Background()) }()

	captured := make(chan *ingest.Message, 1)
	_, err := broker.Subscribe(context.Background(), ingest.TopicIngestion,
		func(ctx context.Context, msg *ingest.Message) error {
			captured <- msg
			return nil
		})
	require.NoError(t, err)

	ingestor := NewIngestor(broker, xlog.New())
	count, err := ingestor.Ingest(context.Background(), []any{
		map[string]any{"id": float64(7), "name": "Queue Item 7"},
		map[string]any{"id": float64(8), "name": "Queue Item 8"},
	}, "corr-queue")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	select {
	case msg := <-captured:
		assert.Equal(t, ingest.SourceQueue, msg.Metadata.Source)
		assert.Equal(t, "corr-queue", msg.Metadata.CorrelationID)
		assert.Len(t, msg.Body, 2)
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}

func TestIngestSkipsEmptyBatch(t *testing.T) {
	broker := ingest.NewBroker(ingest.BrokerConfig{Logger: xlog.New()})
	defer func() { _ = broker.Close(context.Background()) }()

	ingestor := NewIngestor(broker, xlog.New())
	count, err := ingestor.Ingest(context.Background(), []any{}, "corr-empty")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, broker.Stats().Queues[ingest.TopicIngestion])
}

func TestIngestRejectsInvalidPayloadBeforePublish(t *testing.T) {
	broker := ingest.NewBroker(ingest.BrokerConfig{Logger: xlog.New()})
	defer func() { _ = broker.Close(context.Background()) }()

	ingestor := NewIngestor(broker, xlog.New())
	_, err := ingestor.Ingest(context.Background(), 42, "corr-bad")

	var vErr *ingest.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 0, broker.Stats().Queues[ingest.TopicIngestion])
}
