package vm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"alert-engine/internal/config"
	"alert-engine/internal/model"
)

// defaultConcurrency bounds parallel queries issued by GetLatest.
const defaultConcurrency = 8

// ErrUnreachable is returned when no query of a batch reached the API.
var ErrUnreachable = errors.New("metric source unreachable")

// Client is a client for the VictoriaMetrics/Prometheus query API.
type Client struct {
	endpoint    string             // API endpoint
	timeout     time.Duration      // Request timeout
	retry       config.RetryConfig // Retry configuration
	concurrency int                // Parallel queries
	httpClient  *resty.Client      // HTTP client
	logger      zerolog.Logger     // Logger

	mu      sync.RWMutex
	queries map[string]string // metric name -> PromQL expression
}

// NewClient creates a new VictoriaMetrics/Prometheus API client.
func NewClient(cfg *config.VictoriaMetricsConfig, retryCfg *config.RetryConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	retry := config.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
	}
	if retryCfg != nil {
		retry = *retryCfg
	}

	httpClient := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetRetryCount(retry.MaxRetries).
		SetRetryWaitTime(retry.BaseDelay).
		SetRetryMaxWaitTime(retry.BaseDelay * 8).
		AddRetryCondition(retryCondition)

	return &Client{
		endpoint:    cfg.Endpoint,
		timeout:     timeout,
		retry:       retry,
		concurrency: defaultConcurrency,
		httpClient:  httpClient,
		logger:      logger.With().Str("component", "vm-client").Logger(),
		queries:     make(map[string]string),
	}
}

// SetConcurrency overrides the number of parallel queries.
func (c *Client) SetConcurrency(n int) {
	if n > 0 {
		c.concurrency = n
	}
}

// retryCondition retries on timeouts, connection failures and 5xx, never on 4xx.
func retryCondition(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp != nil && resp.StatusCode() >= 500
}

// SetQueries replaces the metric name to PromQL mapping used by GetLatest.
// Names without an entry are queried verbatim.
func (c *Client) SetQueries(queries map[string]string) {
	m := make(map[string]string, len(queries))
	for k, v := range queries {
		m[k] = v
	}
	c.mu.Lock()
	c.queries = m
	c.mu.Unlock()
}

func (c *Client) queryFor(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if q, ok := c.queries[name]; ok && q != "" {
		return q
	}
	return name
}

// Query executes an instant query at the /api/v1/query endpoint.
func (c *Client) Query(ctx context.Context, query string) (*QueryResponse, error) {
	c.logger.Debug().Str("query", query).Msg("executing PromQL query")

	var result QueryResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("query", query).
		SetResult(&result).
		Get("/api/v1/query")
	if err != nil {
		return nil, &transportError{err: err}
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("VM API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	if !result.IsSuccess() {
		return nil, fmt.Errorf("VM API error [%s]: %s", result.ErrorType, result.Error)
	}
	if len(result.Warnings) > 0 {
		c.logger.Warn().
			Strs("warnings", result.Warnings).
			Str("query", query).
			Msg("VM API returned warnings")
	}
	return &result, nil
}

// transportError marks failures that never reached the API.
type transportError struct{ err error }

func (e *transportError) Error() string { return "failed to execute query: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// GetLatest returns the newest reading per metric name.
// Metrics with no finite sample or a failed query are absent from the map.
// An error is returned only when every query failed to reach the API.
func (c *Client) GetLatest(ctx context.Context, names []string) (map[string]model.MetricReading, error) {
	readings := make(map[string]model.MetricReading, len(names))
	if len(names) == 0 {
		return readings, nil
	}

	var (
		mu          sync.Mutex
		unreachable int
		lastErr     error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, name := range names {
		g.Go(func() error {
			query := c.queryFor(name)
			resp, err := c.Query(gctx, query)
			if err != nil {
				c.logger.Warn().Err(err).Str("metric", name).Str("query", query).Msg("metric query failed")
				mu.Lock()
				var te *transportError
				if errors.As(err, &te) {
					unreachable++
				}
				lastErr = err
				mu.Unlock()
				return nil
			}

			point, series, ok := resp.Latest()
			if !ok {
				c.logger.Debug().Str("metric", name).Msg("query returned no finite sample")
				return nil
			}
			if series > 1 {
				c.logger.Debug().Str("metric", name).Int("series", series).Msg("query returned several series, using the first")
			}

			mu.Lock()
			readings[name] = model.NewMetricReading(name, point.Value, point.Time)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if unreachable == len(names) {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
	}
	return readings, nil
}
