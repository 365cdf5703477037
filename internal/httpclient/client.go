// Package httpclient provides the HTTP client used for all upstream IPTV
// provider traffic: playlist downloads, XMLTV guide fetches, and stream
// probing.
//
// It wraps the standard http.Client with:
//   - bounded retries with exponential backoff
//   - a circuit breaker so a dead provider is not hammered
//   - transparent decompression (gzip, deflate, brotli)
//   - an idle-read watchdog that aborts stalled downloads
//   - structured logging with credential obfuscation
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Errors returned by the client.
var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrMaxRetries  = errors.New("max retries exceeded")
	ErrReadStalled = errors.New("upstream read stalled")
)

// Default configuration values. The user agent mimics VLC because several
// IPTV providers reject unknown players.
const (
	DefaultTimeout         = 120 * time.Second
	DefaultIdleReadTimeout = 30 * time.Second
	DefaultRetryAttempts   = 2
	DefaultRetryDelay      = time.Second
	DefaultRetryMaxDelay   = 15 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
	DefaultUserAgent       = "VLC/3.0.20 LibVLC/3.0.20"

	acceptEncodings = "gzip, deflate, br"
)

// Config holds the configuration for the upstream HTTP client.
type Config struct {
	// Timeout bounds the whole request, headers through body.
	Timeout time.Duration

	// IdleReadTimeout aborts a response body read that makes no progress for
	// this long. Zero disables the watchdog.
	IdleReadTimeout time.Duration

	// RetryAttempts is how many times a failed request is retried.
	RetryAttempts int

	// RetryDelay is the initial backoff; it doubles per attempt up to
	// RetryMaxDelay.
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration

	// UserAgent is sent on every request unless the caller set one.
	UserAgent string

	// Logger receives request and retry logging.
	Logger *slog.Logger

	// Decompress enables transparent response decompression.
	Decompress bool

	// BaseClient overrides the underlying http.Client.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with the defaults above.
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		IdleReadTimeout: DefaultIdleReadTimeout,
		RetryAttempts:   DefaultRetryAttempts,
		RetryDelay:      DefaultRetryDelay,
		RetryMaxDelay:   DefaultRetryMaxDelay,
		UserAgent:       DefaultUserAgent,
		Logger:          slog.Default(),
		Decompress:      true,
	}
}

// Client is the upstream HTTP client.
type Client struct {
	config  Config
	client  *http.Client
	breaker *Breaker
	logger  *slog.Logger
}

// New creates a client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		config:  cfg,
		client:  base,
		breaker: NewBreaker(DefaultBreakerFailures, DefaultBreakerCooldown, 1),
		logger:  cfg.Logger,
	}
}

// NewWithDefaults creates a client with default configuration.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Do executes a request with breaker protection and bounded retries. The
// returned body is already decompressed and guarded by the idle watchdog.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.Decompress && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncodings)
	}

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying upstream request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", ObfuscateURL(req.URL)),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			c.logger.Warn("circuit open, skipping upstream request",
				slog.String("url", ObfuscateURL(req.URL)),
			)
			continue
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		elapsed := time.Since(start)

		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err
			c.logger.Warn("upstream request failed",
				slog.String("url", ObfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			continue
		}

		if retryableStatus(resp.StatusCode) {
			c.breaker.RecordFailure()
			lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
			resp.Body.Close()
			continue
		}

		c.breaker.RecordSuccess()
		c.logger.Debug("upstream request completed",
			slog.String("url", ObfuscateURL(req.URL)),
			slog.String("method", req.Method),
			slog.Int("status", resp.StatusCode),
			slog.Duration("elapsed", elapsed),
			slog.Int64("content_length", resp.ContentLength),
		)

		if c.config.Decompress {
			resp.Body = c.decompress(resp)
		}
		if c.config.IdleReadTimeout > 0 {
			resp.Body = newIdleWatchdog(resp.Body, c.config.IdleReadTimeout)
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// Head performs a HEAD request. Responses carry no body so decompression and
// the idle watchdog never engage.
func (c *Client) Head(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

func (c *Client) decompress(resp *http.Response) io.ReadCloser {
	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))
	switch encoding {
	case "":
		return resp.Body
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("gzip reader failed, using raw body", slog.String("error", err.Error()))
			return resp.Body
		}
		return &decompressedBody{reader: r, closer: resp.Body}
	case "deflate":
		return &decompressedBody{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case "br":
		return &decompressedBody{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		c.logger.Debug("unknown content encoding", slog.String("encoding", encoding))
		return resp.Body
	}
}

// decompressedBody pairs a decompressing reader with the network body closer.
type decompressedBody struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressedBody) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressedBody) Close() error {
	if c, ok := d.reader.(io.Closer); ok {
		c.Close()
	}
	return d.closer.Close()
}

// idleWatchdog closes the body if a Read makes no progress within the
// timeout, converting a silently stalled provider into ErrReadStalled.
type idleWatchdog struct {
	body    io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	stalled chan struct{}
}

func newIdleWatchdog(body io.ReadCloser, timeout time.Duration) *idleWatchdog {
	w := &idleWatchdog{
		body:    body,
		timeout: timeout,
		stalled: make(chan struct{}),
	}
	w.timer = time.AfterFunc(timeout, func() {
		close(w.stalled)
		// Closing the body unblocks the pending Read with an error.
		body.Close()
	})
	return w
}

func (w *idleWatchdog) Read(p []byte) (int, error) {
	n, err := w.body.Read(p)
	select {
	case <-w.stalled:
		return n, ErrReadStalled
	default:
	}
	if err == nil {
		w.timer.Reset(w.timeout)
	}
	return n, err
}

func (w *idleWatchdog) Close() error {
	w.timer.Stop()
	return w.body.Close()
}

// retryableStatus reports whether a status code is worth retrying.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ObfuscateURL returns the URL with credential-bearing query parameters and
// userinfo masked, safe for logs.
func ObfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	masked := *u
	if masked.User != nil {
		masked.User = url.User("***")
	}
	query := masked.Query()
	for _, param := range []string{
		"password", "passwd", "pass", "pwd",
		"token", "api_key", "apikey", "key",
		"secret", "auth", "authorization",
		"username", "user",
	} {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	masked.RawQuery = query.Encode()
	return masked.String()
}

// ObfuscateURLString is ObfuscateURL for raw URL strings. Unparseable input
// comes back unchanged.
func ObfuscateURLString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return ObfuscateURL(u)
}
