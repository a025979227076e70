// Package relay implements the client for the remote views API.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/notionviews/agent/internal/metrics"
	"github.com/notionviews/agent/internal/tracking"
)

// ErrNoEndpoint indicates the client has no endpoint configured yet.
var ErrNoEndpoint = errors.New("relay endpoint is not configured")

// APIError carries the status code and body text of a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote api returned %d: %s", e.StatusCode, e.Body)
}

// ConnectivityError wraps a network-level failure (no response received).
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("remote api unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

const headerAPIKey = "X-API-Key"

// maxErrorBodyBytes caps how much of an error body is kept for diagnostics.
const maxErrorBodyBytes = 4 << 10

// Config controls client behavior.
type Config struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	IncrementQPS float64
}

// Client talks to the views API. Credentials are swappable at runtime so a
// settings save takes effect without restart.
type Client struct {
	mu       sync.RWMutex
	endpoint string
	apiKey   string

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New builds a Client. A zero timeout defaults to 15s; a zero IncrementQPS
// disables increment rate limiting.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.IncrementQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.IncrementQPS), 1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		logger:     logger,
	}
}

// SetCredentials swaps the endpoint and API key in place.
func (c *Client) SetCredentials(endpoint, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = strings.TrimRight(endpoint, "/")
	c.apiKey = apiKey
}

func (c *Client) credentials() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint, c.apiKey
}

// Health probes the remote service, preferring /health with a fallback to
// the root liveness route.
func (c *Client) Health(ctx context.Context) error {
	var probe struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &probe); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return c.do(ctx, http.MethodGet, "/", nil, nil)
		}
		return err
	}
	return nil
}

// IncrementViews reports one view for a page. There is no retry policy: a
// failure means this visit's increment is lost.
func (c *Client) IncrementViews(ctx context.Context, pageID, databaseID string) (tracking.IncrementResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return tracking.IncrementResult{}, fmt.Errorf("increment rate limit: %w", err)
		}
	}
	body := map[string]string{"page_id": pageID}
	if databaseID != "" {
		body["database_id"] = databaseID
	}
	var result tracking.IncrementResult
	if err := c.do(ctx, http.MethodPost, "/increment_views", body, &result); err != nil {
		return tracking.IncrementResult{}, err
	}
	return result, nil
}

// Register exchanges a Notion integration token for an API key.
func (c *Client) Register(ctx context.Context, notionToken, databaseID string) (string, error) {
	body := map[string]string{"notion_token": notionToken}
	if databaseID != "" {
		body["database_id"] = databaseID
	}
	var resp struct {
		APIKey string `json:"api_key"`
	}
	if err := c.do(ctx, http.MethodPost, "/register", body, &resp); err != nil {
		return "", err
	}
	if resp.APIKey == "" {
		return "", errors.New("register response carried no api_key")
	}
	return resp.APIKey, nil
}

// Stats fetches usage statistics for the status display.
func (c *Client) Stats(ctx context.Context) (tracking.UsageStats, error) {
	var stats tracking.UsageStats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return tracking.UsageStats{}, err
	}
	return stats, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	endpoint, apiKey := c.credentials()
	if endpoint == "" {
		return ErrNoEndpoint
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set(headerAPIKey, apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	metrics.ObserveRelayRequest(path, resp.StatusCode, time.Since(start))
	c.logger.Debug("relay request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(text)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
