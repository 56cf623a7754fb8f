// Package client implements the HTTP client for the batch verification
// service: anti-forgery session handling, streamed batch submission, status
// polling, and out-of-band cancellation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/verikit/sheerid-batch/pkg/verify"
)

// Service endpoints relative to the base URL.
const (
	batchPath       = "/api/batch"
	checkStatusPath = "/api/check-status"
	cancelPath      = "/api/cancel"
)

// Defaults applied by DefaultConfig and by New for zero-valued fields.
const (
	// DefaultBaseURL is the production verification service.
	DefaultBaseURL = "https://batch.1key.me"

	// DefaultUserAgent is a browser User-Agent. The service fronts a web
	// form and rejects obviously non-browser clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	DefaultTokenTimeout  = 10 * time.Second
	DefaultSubmitTimeout = 30 * time.Second
	DefaultPollTimeout   = 10 * time.Second
	DefaultCancelTimeout = 10 * time.Second

	// DefaultPollInterval and DefaultMaxPollAttempts bound status polling
	// to 60 requests over two minutes per verification.
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 60
)

// Prometheus metrics for verification service requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheerid_requests_total",
		Help: "Total verification service requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sheerid_request_duration_seconds",
		Help:    "Verification service request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	clientErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheerid_client_errors_total",
		Help: "Total client errors by kind",
	}, []string{"kind"})

	tokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sheerid_token_refreshes_total",
		Help: "Total anti-forgery token refreshes triggered by auth failures",
	})

	pollAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sheerid_poll_attempts_total",
		Help: "Total status poll requests",
	})

	pollTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sheerid_poll_timeouts_total",
		Help: "Total verifications that exhausted the poll attempt budget",
	})
)

// ProgressFunc receives non-authoritative progress updates during submission
// and polling. Implementations must not block; they are called inline from
// the request path.
type ProgressFunc func(verify.ProgressEvent)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the verification service.
	BaseURL string

	// APIKey is forwarded in batch submissions as the captcha bypass token.
	// Jobs without a key are accepted by the client but typically rejected
	// per-ID by the service.
	APIKey string

	// UserAgent sent on every request.
	UserAgent string

	// Per-request deadlines. SubmitTimeout covers the batch POST including
	// the full event stream; PollTimeout and CancelTimeout cover one
	// request each.
	TokenTimeout  time.Duration
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	CancelTimeout time.Duration

	// PollInterval is the pause before every status request.
	PollInterval time.Duration

	// MaxPollAttempts is the status request budget per verification.
	MaxPollAttempts int
}

// DefaultConfig returns the production configuration for the given API key.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		APIKey:          apiKey,
		UserAgent:       DefaultUserAgent,
		TokenTimeout:    DefaultTokenTimeout,
		SubmitTimeout:   DefaultSubmitTimeout,
		PollTimeout:     DefaultPollTimeout,
		CancelTimeout:   DefaultCancelTimeout,
		PollInterval:    DefaultPollInterval,
		MaxPollAttempts: DefaultMaxPollAttempts,
	}
}

// Client is the verification service client. It owns one Session and, like
// the session, is confined to a single goroutine.
type Client struct {
	session *Session
	config  Config
	logger  zerolog.Logger
}

// New creates a verification client. Zero-valued timeouts and limits are
// filled from the defaults, so a Config{APIKey: key} is usable as-is.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base_url %q is not an absolute URL", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = DefaultTokenTimeout
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = DefaultCancelTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = DefaultMaxPollAttempts
	}

	session, err := NewSession(cfg.BaseURL, cfg.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &Client{
		session: session,
		config:  cfg,
		logger:  log.With().Str("component", "verification-client").Logger(),
	}, nil
}

// Config returns the effective configuration after default filling.
func (c *Client) Config() Config {
	return c.config
}

// EnsureToken makes sure the session holds an anti-forgery token, fetching
// the landing page under the token timeout if needed.
func (c *Client) EnsureToken(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, c.config.TokenTimeout)
	defer cancel()

	start := time.Now()
	err := c.session.EnsureToken(tctx)
	requestDuration.WithLabelValues("/").Observe(time.Since(start).Seconds())
	if err != nil {
		clientErrorsTotal.WithLabelValues(string(ErrorKindTokenFetch)).Inc()
	}
	return err
}

// SetHTTPClient replaces the underlying HTTP client. Used by tests to
// inject transports; the replacement should carry a cookie jar if the
// target service needs one.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.session.httpClient = httpClient
}

// postJSON issues a POST with the session headers, a JSON body, and a fresh
// deadline. The caller owns the response body.
func (c *Client) postJSON(ctx context.Context, path string, payload any, timeout time.Duration) (*http.Response, context.CancelFunc, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, &ServiceError{Kind: ErrorKindTransport, Message: "encoding request", Err: err}
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, &ServiceError{Kind: ErrorKindTransport, Message: "building request", Err: err}
	}
	c.session.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.session.Do(req)
	requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		cancel()
		clientErrorsTotal.WithLabelValues(string(ErrorKindTransport)).Inc()
		return nil, nil, &ServiceError{Kind: ErrorKindTransport, Message: "request to " + path + " failed", Err: err}
	}

	requestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, cancel, nil
}
