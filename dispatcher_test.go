package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xlog"
)

func newStartedPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipelineBuilder().
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

func TestDispatcherRoutesBySourceTag(t *testing.T) {
	p := newStartedPipeline(t)
	ctx := context.Background()

	_, err := p.Broker.Publish(ctx, TopicIngestion,
		[]Record{{"id": 1, "name": "a"}, {"id": 2, "name": "b"}},
		Metadata{Source: SourceAPI, CorrelationID: "corr-api"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.Store.Stats().SourceBreakdown[SourceAPI] == 2
	}, time.Second, 5*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Datastore.TotalRecords)
	assert.Equal(t, 0, stats.Queues.Queues[TopicIngestion])
}

func TestDispatcherStoresUnknownSourceAsFallback(t *testing.T) {
	p := newStartedPipeline(t)
	ctx := context.Background()

	_, err := p.Broker.Publish(ctx, TopicIngestion,
		[]Record{{"id": 9}},
		Metadata{Source: "mystery", CorrelationID: "corr-unknown"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.Store.Stats().SourceBreakdown[SourceUnknown] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherHandlesMissingSourceTag(t *testing.T) {
	p := newStartedPipeline(t)
	ctx := context.Background()

	_, err := p.Broker.Publish(ctx, TopicIngestion,
		[]Record{{"id": 3}}, Metadata{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.Store.Stats().SourceBreakdown[SourceUnknown] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherDeduplicatesRedeliveries(t *testing.T) {
	p := newStartedPipeline(t)
	ctx := context.Background()

	body := []Record{{"id": 5, "name": "once"}}
	for i := 0; i < 3; i++ {
		_, err := p.Broker.Publish(ctx, TopicIngestion, body,
			Metadata{Source: SourceQueue, CorrelationID: "corr-dup"})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return p.Broker.Stats().Queues[TopicIngestion] == 0
	}, time.Second, 5*time.Millisecond)

	// Three deliveries, one stored copy.
	assert.Equal(t, 1, p.Store.Stats().TotalRecords)
}
