package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xlog"

	"github.com/streamweld/ingest"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Timeout:    time.Second,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}
}

// pagedHandler serves total items through page/limit query params.
func pagedHandler(total int, requests *atomic.Int32) http.HandlerFunc {
	items := make([]map[string]any, total)
	for i := range items {
		items[i] = map[string]any{"id": i + 1, "name": fmt.Sprintf("Item %d", i+1)}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if page < 1 {
			page = 1
		}
		start := (page - 1) * limit
		end := start + limit
		if start > total {
			start = total
		}
		if end > total {
			end = total
		}
		_ = json.NewEncoder(w).Encode(items[start:end])
	}
}

func TestFetchAllPagesWalksPagination(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(pagedHandler(150, &requests))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), xlog.New())
	records, err := client.FetchAllPages(context.Background(), "/api/items")
	require.NoError(t, err)

	assert.Len(t, records, 150)
	// Page 1 full (100), page 2 short (50) — short page ends the walk.
	assert.EqualValues(t, 2, requests.Load())

	id, ok := records[0].ID()
	require.True(t, ok)
	assert.Equal(t, "1", id)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[{"id":1,"name":"Item 1"}]`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), xlog.New())
	records, err := client.FetchAllPages(context.Background(), "/api/items")
	require.NoError(t, err)

	assert.Len(t, records, 1)
	assert.EqualValues(t, 3, requests.Load())
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 2
	client := NewClient(cfg, xlog.New())

	_, err := client.FetchAllPages(context.Background(), "/api/items")
	var transient *ingest.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusInternalServerError, transient.StatusCode)
	// First attempt plus two retries.
	assert.EqualValues(t, 3, requests.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), xlog.New())
	_, err := client.FetchAllPages(context.Background(), "/api/items")
	require.Error(t, err)

	var transient *ingest.TransientError
	assert.False(t, errors.As(err, &transient))
	assert.EqualValues(t, 1, requests.Load())
}

func TestRunRejectsInvalidBatchBeforePublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Missing the required string name.
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer srv.Close()

	broker := ingest.NewBroker(ingest.BrokerConfig{Logger: xlog.New()})
	defer func() { _ = broker.Close(context.Background()) }()
	require.NoError(t, broker.CreateTopic(ingest.TopicIngestion))

	ingestor := NewIngestor(NewClient(testConfig(srv.URL), xlog.New()), broker, xlog.New())
	_, err := ingestor.Run(context.Background(), "/api/items", "corr-invalid")

	var vErr *ingest.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "corr-invalid", vErr.CorrelationID)
	assert.Equal(t, 0, broker.Stats().Queues[ingest.TopicIngestion])
}

func TestRunPublishesValidBatch(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(pagedHandler(3, &requests))
	defer srv.Close()

	broker := ingest.NewBroker(ingest.BrokerConfig{Logger: xlog.New()})
	defer func() { _ = broker.Close(context.Background()) }()

	ingestor := NewIngestor(NewClient(testConfig(srv.URL), xlog.New()), broker, xlog.New())
	result, err := ingestor.Run(context.Background(), "/api/items", "corr-ok")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Count)
	// No consumer attached, so the batch sits pending.
	assert.Equal(t, 1, broker.Stats().Queues[ingest.TopicIngestion])
}
