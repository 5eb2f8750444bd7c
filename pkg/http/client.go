package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// StatusError is returned when the remote API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Temporary reports whether the failure is worth retrying (server side or throttling).
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err carries a 404 from the remote API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	retry      RetryPolicy
}

// RetryPolicy controls the exponential backoff applied to retryable failures.
type RetryPolicy struct {
	MaxTries        uint
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy mirrors what the Marketing Cloud REST API tolerates.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        5,
		MaxElapsed:      2 * time.Minute,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     15 * time.Second,
	}
}

type RequestOptions struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    interface{}
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// NewClientWithLogger creates a new HTTP client with a custom logger
func NewClientWithLogger(logger *zap.Logger) *Client {
	return NewClientWithPolicy(logger, DefaultRetryPolicy())
}

// NewClientWithPolicy creates a client with an explicit retry policy.
func NewClientWithPolicy(logger *zap.Logger, policy RetryPolicy) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
		retry:  policy,
	}
}

func (c *Client) Do(ctx context.Context, opts RequestOptions) (*Response, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.retry.InitialInterval
	expBackoff.MaxInterval = c.retry.MaxInterval
	expBackoff.Reset()

	operation := func() (*Response, error) {
		req, err := c.buildRequest(ctx, opts)
		if err != nil {
			c.logger.Error("Failed to build request", zap.Error(err), zap.String("method", opts.Method), zap.String("url", opts.URL))
			return nil, backoff.Permanent(err)
		}

		c.logger.Debug("Making HTTP request",
			zap.String("method", opts.Method),
			zap.String("url", opts.URL))

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			// The request may have reached the server before the connection
			// dropped; a second DELETE cannot tell that apart from a miss.
			if opts.Method == http.MethodDelete {
				c.logger.Error("HTTP request failed, not retrying delete",
					zap.Error(err),
					zap.String("url", opts.URL))
				return nil, backoff.Permanent(err)
			}
			c.logger.Warn("HTTP request failed, will retry",
				zap.Error(err),
				zap.String("method", opts.Method),
				zap.String("url", opts.URL))
			return nil, err
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			c.logger.Error("Failed to read response body", zap.Error(err))
			return nil, backoff.Permanent(fmt.Errorf("failed to read response body: %w", err))
		}

		if httpResp.StatusCode >= 400 {
			statusErr := &StatusError{
				StatusCode: httpResp.StatusCode,
				Method:     opts.Method,
				URL:        opts.URL,
				Body:       string(body),
			}
			if c.retryable(opts.Method, statusErr) {
				c.logger.Warn("Server error, will retry",
					zap.Int("status_code", httpResp.StatusCode),
					zap.String("method", opts.Method),
					zap.String("url", opts.URL))
				return nil, statusErr
			}
			c.logger.Error("Client error, not retryable",
				zap.Int("status_code", httpResp.StatusCode),
				zap.String("method", opts.Method),
				zap.String("url", opts.URL),
				zap.String("response", string(body)))
			return nil, backoff.Permanent(statusErr)
		}

		return &Response{
			StatusCode: httpResp.StatusCode,
			Headers:    httpResp.Header,
			Body:       body,
		}, nil
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxElapsedTime(c.retry.MaxElapsed),
	}
	if c.retry.MaxTries > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(c.retry.MaxTries))
	}

	resp, err := backoff.Retry(ctx, operation, retryOpts...)
	if err != nil {
		c.logger.Error("HTTP request failed after retries",
			zap.Error(err),
			zap.String("method", opts.Method),
			zap.String("url", opts.URL))
		return nil, err
	}

	c.logger.Debug("HTTP request completed successfully",
		zap.Int("status_code", resp.StatusCode),
		zap.String("method", opts.Method),
		zap.String("url", opts.URL))

	return resp, nil
}

// retryable decides whether a status error gets another attempt. A 5xx on a
// DELETE may mean the remote object was partially removed, so only a 429,
// which is answered before any work is done, is retried.
func (c *Client) retryable(method string, err *StatusError) bool {
	if method == http.MethodDelete {
		return err.StatusCode == http.StatusTooManyRequests
	}
	return err.Temporary()
}

func (c *Client) buildRequest(ctx context.Context, opts RequestOptions) (*http.Request, error) {
	var bodyReader io.Reader
	if opts.Body != nil {
		switch v := opts.Body.(type) {
		case []byte:
			bodyReader = bytes.NewReader(v)
		case url.Values:
			bodyReader = strings.NewReader(v.Encode())
		default:
			bodyJSON, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(bodyJSON)
		}
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if opts.Body != nil {
		if _, isForm := opts.Body.(url.Values); isForm {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	req.Header.Set("Accept", "application/json")

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, RequestOptions{
		Method:  http.MethodGet,
		URL:     url,
		Headers: headers,
	})
}

func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body interface{}) (*Response, error) {
	return c.Do(ctx, RequestOptions{
		Method:  http.MethodPost,
		URL:     url,
		Headers: headers,
		Body:    body,
	})
}

// Delete issues a DELETE. Only throttled (429) responses and transport
// failures are retried for deletes.
func (c *Client) Delete(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, RequestOptions{
		Method:  http.MethodDelete,
		URL:     url,
		Headers: headers,
	})
}
