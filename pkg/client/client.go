// Package client provides the authenticated Prefect Cloud HTTP transport with
// rate limiting, retries, and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for Prefect API operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefect_requests_total",
		Help: "Total Prefect API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prefect_request_duration_seconds",
		Help:    "Prefect API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefect_errors_total",
		Help: "Total Prefect API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the Prefect Cloud API root.
const DefaultBaseURL = "https://api.prefect.cloud/api"

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root; stream paths are resolved against it.
	BaseURL string

	// APIKey is the Prefect Cloud API key, sent as a Bearer token.
	APIKey string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout for individual requests.
	Timeout time.Duration

	// Retry
	Retry RetryConfig

	// Rate limiting (requests per second and burst).
	RateLimit float64
	RateBurst int

	// Transport allows injecting a custom HTTP transport (for tests).
	Transport http.RoundTripper
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		APIKey:    apiKey,
		UserAgent: "tap-prefect/0.1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
		RateLimit: 10,
		RateBurst: 5,
	}
}

// Client is the Prefect Cloud API client.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a new Prefect API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}

	logger := log.With().Str("component", "prefect-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		config:  cfg,
		logger:  logger,
	}, nil
}

// Request describes one API request to be dispatched.
type Request struct {
	// Method is the HTTP verb.
	Method string

	// Path is resolved against the configured base URL.
	Path string

	// URL, when set, is used as the full request target instead of Path.
	// Link-style pagination hands the resumption link over here.
	URL string

	// Query parameters, if any.
	Query url.Values

	// Body is marshalled to JSON when non-nil.
	Body any

	// Headers are additional request headers.
	Headers map[string]string
}

// Response wraps an API response body for single-pass consumption.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the response body into target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// resolveURL computes the full request target for req.
func (c *Client) resolveURL(req *Request) string {
	target := req.URL
	if target == "" {
		target = strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	}
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}
	return target
}

// Do dispatches one API request with rate limiting, retries, and error
// classification. The returned response body has been fully read.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	target := c.resolveURL(req)

	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	c.logger.Info().
		Str("method", req.Method).
		Str("url", target).
		Bool("has_body", body != nil).
		Msg("Prepared request")

	endpoint := endpointLabel(target)
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var resp *Response
	retryErr := retryWithBackoff(ctx, c.config.Retry, func() (ErrorClass, error) {
		var class ErrorClass
		var err error
		resp, class, err = c.dispatch(ctx, req.Method, target, body, req.Headers)
		return class, err
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return resp, nil
}

// dispatch performs exactly one HTTP round trip and counts it.
func (c *Client) dispatch(ctx context.Context, method, target string, body []byte, headers map[string]string) (*Response, ErrorClass, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, ErrorClassNetwork, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, ErrorClassNetwork, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	endpoint := endpointLabel(target)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error().Err(err).Str("url", target).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, ErrorClassNetwork, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, ErrorClassNetwork, fmt.Errorf("read response body: %w", err)
	}

	requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", httpResp.StatusCode)).Inc()

	if httpResp.StatusCode >= 400 {
		class := classifyStatus(httpResp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("url", target).
			Int("status", httpResp.StatusCode).
			Str("error_class", string(class)).
			Msg("Prefect API error")

		return nil, class, &APIError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: class,
			URL:        target,
			Message:    httpResp.Status,
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
	}, "", nil
}

// endpointLabel strips query and host from a request target so metric
// cardinality stays bounded to the endpoint path.
func endpointLabel(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Path
}
