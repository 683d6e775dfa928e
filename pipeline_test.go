package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xlog"

	"github.com/streamweld/ingest"
	csvadapter "github.com/streamweld/ingest/adapter/csv"
	"github.com/streamweld/ingest/adapter/queue"
)

func buildPipeline(t *testing.T) *ingest.Pipeline {
	t.Helper()
	p, err := ingest.NewPipelineBuilder().
		WithLogger(xlog.New()).
		WithRetryDelay(2 * time.Millisecond).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		_ = p.Close(context.Background())
	})
	return p
}

func TestQueuePayloadFlowsThroughToStore(t *testing.T) {
	p := buildPipeline(t)
	ctx := context.Background()

	ingestor := queue.NewIngestor(p.Broker, xlog.New())
	count, err := ingestor.Ingest(ctx, map[string]any{
		"id":    float64(101),
		"name":  "Queue Item 101",
		"value": float64(7),
	}, "corr-e2e-queue")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Eventually(t, func() bool {
		return p.Store.Stats().SourceBreakdown[ingest.SourceQueue] == 1
	}, time.Second, 5*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Datastore.TotalRecords)
	assert.Equal(t, 1, stats.Datastore.UniqueIDs)
	assert.Equal(t, 0, stats.Queues.Queues[ingest.TopicIngestion])
	assert.Equal(t, 0, stats.Queues.DeadLetterCount)
}

func TestCSVFileFlowsThroughToStore(t *testing.T) {
	p := buildPipeline(t)
	ctx := context.Background()

	processor := csvadapter.NewProcessor(csvadapter.Config{}, p.Broker, xlog.New())
	input := "id,name,value\n1,Item 1,10\n2,Item 2,20"

	result, err := processor.Process(ctx, []byte(input), "items.csv", "corr-e2e-csv")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ValidCount)

	require.Eventually(t, func() bool {
		return p.Store.Stats().SourceBreakdown[ingest.SourceCSV] == 2
	}, time.Second, 5*time.Millisecond)

	// Re-uploading the same file must not duplicate anything downstream.
	_, err = processor.Process(ctx, []byte(input), "items.csv", "corr-e2e-csv-2")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.Broker.Stats().Queues[ingest.TopicIngestion] == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, p.Store.Stats().TotalRecords)
}
