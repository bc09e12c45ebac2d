package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"agility-sync/internal/metrics"
)

const (
	restPrefix       = "/rest/v1"
	maxErrorBody     = 4096
	singleObjectMIME = "application/vnd.pgrst.object+json"
)

var (
	// ErrRemoteRejected is an application-level refusal from the remote store
	// (validation, permissions, server error). Matched by *HTTPError.
	ErrRemoteRejected = errors.New("remote store rejected request")
	// ErrNetworkUnavailable is a transport failure or timeout
	ErrNetworkUnavailable = errors.New("remote store unreachable")
)

// HTTPError is a non-2xx response from the remote store
type HTTPError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed with status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrRemoteRejected) true for any HTTPError
func (e *HTTPError) Is(target error) bool {
	return target == ErrRemoteRejected
}

// Client talks to the hosted relational backend's REST interface
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *RateLimiter
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a new remote store client. timeout bounds every request.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    NewRateLimiter(),
		logger:     logger,
		now:        time.Now,
	}
}

// RateLimit reports the back-off requested by the remote store, if any
func (c *Client) RateLimit() RateLimitStatus {
	return c.limiter.Status(c.now())
}

// Ping reports whether the remote store is reachable. Any HTTP response
// counts as reachable; only transport failures do not. While the store has
// asked us to back off, Ping fails without sending a request.
func (c *Client) Ping(ctx context.Context) error {
	if status := c.limiter.Status(c.now()); status.Limited {
		return fmt.Errorf("%w: rate limited until %s", ErrNetworkUnavailable, status.BlockedUntil.Format(time.RFC3339))
	}
	resp, err := c.do(ctx, metrics.OpPing, http.MethodHead, restPrefix+"/", nil, nil)
	if err != nil {
		if errors.Is(err, ErrRemoteRejected) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// do performs one request and maps failures onto ErrNetworkUnavailable or
// *HTTPError. The caller owns the body of a successful response.
func (c *Client) do(ctx context.Context, op, method, path string, body any, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.RemoteRequestsTotal.WithLabelValues(op, "error").Inc()
		metrics.RemoteRequestDuration.WithLabelValues(op, "error").Observe(duration.Seconds())
		c.logger.Warn("remote request failed",
			zap.String("operation", op),
			zap.Error(err),
			zap.Int64("duration_ms", duration.Milliseconds()))
		return nil, fmt.Errorf("%w: %s: %v", ErrNetworkUnavailable, op, err)
	}

	status := strconv.Itoa(resp.StatusCode)
	metrics.RemoteRequestsTotal.WithLabelValues(op, status).Inc()
	metrics.RemoteRequestDuration.WithLabelValues(op, status).Observe(duration.Seconds())
	c.logger.Debug("remote_api_request",
		zap.String("operation", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int64("duration_ms", duration.Milliseconds()))

	if isThrottled(resp.StatusCode) {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		c.limiter.Update(resp.StatusCode, retryAfter, c.now())
		metrics.RemoteBackoffTotal.Inc()
		c.logger.Warn("remote store asked to back off",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.Duration("retry_after", retryAfter))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Operation: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	return resp, nil
}

// decodeJSON decodes a successful response body into v and closes it
func decodeJSON(resp *http.Response, op string, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", ErrRemoteRejected, op, err)
	}
	return nil
}
