// Package api ingests records from remote paginated JSON APIs: fetch all
// pages with bounded retry, validate the batch, publish it on the ingestion
// topic.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/trickstertwo/xlog"

	"github.com/streamweld/ingest"
)

// Config controls the API client.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:3001".
	BaseURL string
	// Timeout is the per-request timeout (default: 5s).
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt; only
	// network errors and 5xx responses are retried (default: 3).
	MaxRetries int
	// RetryDelay is the base backoff between attempts; it doubles per retry
	// (default: 1s).
	RetryDelay time.Duration
	// PageSize and the query parameter names for pagination
	// (defaults: 100, "page", "limit").
	PageSize   int
	PageParam  string
	LimitParam string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.PageParam == "" {
		c.PageParam = "page"
	}
	if c.LimitParam == "" {
		c.LimitParam = "limit"
	}
	return c
}

// Client fetches paginated record batches with retry.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *xlog.Logger
}

// NewClient constructs a Client. A nil logger takes the process default.
func NewClient(cfg Config, logger *xlog.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = xlog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// FetchAllPages walks an endpoint page by page until a short or empty page
// and returns the concatenated records.
func (c *Client) FetchAllPages(ctx context.Context, endpoint string) ([]ingest.Record, error) {
	var all []ingest.Record
	page := 1

	c.logger.Info().Str("endpoint", endpoint).Msg("starting paginated fetch")
	for {
		url := fmt.Sprintf("%s%s?%s=%d&%s=%d",
			c.cfg.BaseURL, endpoint, c.cfg.PageParam, page, c.cfg.LimitParam, c.cfg.PageSize)

		batch, err := c.fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		c.logger.Debug().Int("page", page).Int("records", len(batch)).Msg("fetched page")
		if len(batch) < c.cfg.PageSize {
			break
		}
		page++
	}

	c.logger.Info().Str("endpoint", endpoint).Int("records", len(all)).Msg("completed paginated fetch")
	return all, nil
}

// fetch performs one GET with a bounded retry loop: the attempt counter and
// the computed backoff are explicit, and only transient failures re-enter
// the loop.
func (c *Client) fetch(ctx context.Context, url string) ([]ingest.Record, error) {
	for attempt := 1; ; attempt++ {
		records, err := c.get(ctx, url)
		if err == nil {
			return records, nil
		}

		var transient *ingest.TransientError
		if !errors.As(err, &transient) || attempt > c.cfg.MaxRetries {
			c.logger.Error().
				Str("url", url).
				Int("attempts", attempt).
				Err(err).
				Msg("fetch failed")
			return nil, err
		}

		delay := c.cfg.RetryDelay << (attempt - 1)
		c.logger.Warn().
			Str("url", url).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("retryable fetch error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) get(ctx context.Context, url string) ([]ingest.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network error or timeout.
		return nil, &ingest.TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &ingest.TransientError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	var records []ingest.Record
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return records, nil
}
