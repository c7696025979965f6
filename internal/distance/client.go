// Package distance provides a rate-limited client for the Google Distance
// Matrix API.
//
// The client never returns errors to callers: every failure mode maps to a
// sentinel string so that per-row processing in the workbook engine can
// record the failure and continue with the next row.
package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mapruns/distance-api/internal/config"
)

// Sentinel values returned in place of distance/duration text when a lookup
// fails. Callers detect failure by comparing against SentinelRequestFailed or
// by the sentinel prefixes.
const (
	SentinelRequestFailed = "request_failed"
	SentinelParseFailed   = "parse_failed"

	sentinelAPIErrorPrefix   = "api_error: "
	sentinelRouteErrorPrefix = "route_error: "
)

const (
	// pauseInterval is how long the client sleeps after exhausting its call
	// budget, to stay under the external quota.
	pauseInterval = 1 * time.Second

	// retryBackoff is how long the client sleeps before retrying a request
	// rejected with HTTP 429.
	retryBackoff = 2 * time.Second
)

// matrixResponse mirrors the subset of the Distance Matrix payload we read.
type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Distance struct {
				Text string `json:"text"`
			} `json:"distance"`
			Duration struct {
				Text string `json:"text"`
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

// Client issues distance matrix lookups with call pacing and bounded retry on
// throttling. It is not safe for concurrent use; the single task worker is
// its only caller.
type Client struct {
	cfg        config.MapsConfig
	httpClient *http.Client
	logger     *slog.Logger

	// sleep is indirected so tests can observe pacing without waiting.
	sleep func(time.Duration)

	callCount int
}

// NewClient creates a distance matrix client from the given configuration.
// If httpClient is nil a default client with a request timeout is used.
// If logger is nil the default logger is used.
func NewClient(cfg config.MapsConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "distance_client")),
		sleep:      time.Sleep,
	}
}

// IsFailure reports whether a Lookup return value is a sentinel rather than
// real distance/duration text.
func IsFailure(value string) bool {
	if value == SentinelRequestFailed || value == SentinelParseFailed {
		return true
	}
	if len(value) >= len(sentinelAPIErrorPrefix) && value[:len(sentinelAPIErrorPrefix)] == sentinelAPIErrorPrefix {
		return true
	}
	if len(value) >= len(sentinelRouteErrorPrefix) && value[:len(sentinelRouteErrorPrefix)] == sentinelRouteErrorPrefix {
		return true
	}
	return false
}

// Lookup fetches driving distance and duration between two "lat,lng"
// coordinate strings. Coordinates must be validated by the caller; invalid
// input never reaches this method.
//
// After every CallLimit calls the client pauses briefly to stay under the
// external quota. HTTP 429 responses are retried after a fixed backoff, up to
// MaxRetries times; exhaustion yields the request_failed sentinel.
func (c *Client) Lookup(ctx context.Context, origin, destination string) (string, string) {
	if c.callCount >= c.cfg.CallLimit {
		c.logger.Info("reached API call limit, pausing",
			slog.Int("call_limit", c.cfg.CallLimit))
		c.sleep(pauseInterval)
		c.callCount = 0
	}
	c.callCount++

	return c.lookup(ctx, origin, destination, 0)
}

func (c *Client) lookup(ctx context.Context, origin, destination string, attempt int) (string, string) {
	params := url.Values{}
	params.Set("origins", origin)
	params.Set("destinations", destination)
	params.Set("key", c.cfg.APIKey)
	params.Set("mode", "driving")
	params.Set("language", c.cfg.Language)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		c.logger.Error("failed to build distance matrix request", slog.String("error", err.Error()))
		return SentinelRequestFailed, SentinelRequestFailed
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("distance matrix request failed", slog.String("error", err.Error()))
		return SentinelRequestFailed, SentinelRequestFailed
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", slog.String("error", closeErr.Error()))
		}
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		if attempt >= c.cfg.MaxRetries {
			c.logger.Error("rate limit retries exhausted",
				slog.Int("attempts", attempt+1))
			return SentinelRequestFailed, SentinelRequestFailed
		}
		c.logger.Warn("API rate limit exceeded, backing off",
			slog.Duration("backoff", retryBackoff),
			slog.Int("attempt", attempt+1))
		c.sleep(retryBackoff)
		return c.lookup(ctx, origin, destination, attempt+1)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("distance matrix request returned non-200 status",
			slog.Int("status_code", resp.StatusCode))
		return SentinelRequestFailed, SentinelRequestFailed
	}

	var data matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		c.logger.Error("failed to decode distance matrix response", slog.String("error", err.Error()))
		return SentinelParseFailed, SentinelParseFailed
	}

	if data.Status != "OK" {
		c.logger.Error("distance matrix returned error status",
			slog.String("api_status", data.Status))
		s := fmt.Sprintf("%s%s", sentinelAPIErrorPrefix, data.Status)
		return s, s
	}

	if len(data.Rows) == 0 || len(data.Rows[0].Elements) == 0 {
		c.logger.Error("distance matrix response missing rows or elements")
		return SentinelParseFailed, SentinelParseFailed
	}

	element := data.Rows[0].Elements[0]
	if element.Status != "OK" {
		s := fmt.Sprintf("%s%s", sentinelRouteErrorPrefix, element.Status)
		return s, s
	}

	return element.Distance.Text, element.Duration.Text
}
