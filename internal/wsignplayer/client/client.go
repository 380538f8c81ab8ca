// Package client provides an HTTP client for the Wrale Signage display API
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
)

// DefaultTimeout bounds API calls when no timeout option is given
const DefaultTimeout = 15 * time.Second

// UnauthorizedFunc is invoked once for every 401 returned by the backend
type UnauthorizedFunc func(ctx context.Context)

// Client talks to the backend on behalf of one display
type Client struct {
	// baseURL is the root URL for all API requests
	baseURL string
	// httpClient is used for API calls
	httpClient *http.Client
	// mediaClient is used for media downloads, which may take much longer
	mediaClient *http.Client
	// userAgent is sent with every request
	userAgent string
	logger    *slog.Logger

	mu             sync.RWMutex
	onUnauthorized UnauthorizedFunc
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTLSConfig sets custom TLS configuration
func WithTLSConfig(config *tls.Config) ClientOption {
	return func(c *Client) {
		tr := &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: config,
		}
		c.httpClient.Transport = tr
		c.mediaClient.Transport = tr
	}
}

// WithTimeout bounds each API call
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithDownloadTimeout bounds each media download
func WithDownloadTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.mediaClient.Timeout = d
	}
}

// WithHTTPClient replaces the client used for both API calls and downloads
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
		c.mediaClient = hc
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new API client
func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	const op = "Client.New"

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.NewError("INVALID_INPUT", fmt.Sprintf("invalid base URL %q", baseURL), op, errors.ErrInvalidInput)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		baseURL:     u.String(),
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		mediaClient: &http.Client{Timeout: 10 * time.Minute},
		userAgent:   "wsignplayer",
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// BaseURL returns the normalized backend URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// OnUnauthorized registers the single handler invoked on every 401.
// A later registration replaces the earlier one.
func (c *Client) OnUnauthorized(fn UnauthorizedFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *Client) unauthorized(ctx context.Context) {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn(ctx)
	}
}

// doRequest performs an API request. Transport failures are reported as
// ErrUnavailable; HTTP status handling is left to the caller.
func (c *Client) doRequest(ctx context.Context, method, pathStr, token string, body interface{}) (*http.Response, error) {
	const op = "Client.doRequest"

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.NewError("INVALID_INPUT", "invalid base URL", op, err)
	}
	u.Path = path.Join(u.Path, pathStr)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, errors.NewError("ENCODE_FAILED", "error encoding request body", op, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, errors.NewError("INVALID_INPUT", "error creating request", op, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewError("UNAVAILABLE", fmt.Sprintf("%s %s failed", method, pathStr), op, joinUnavailable(err))
	}
	return resp, nil
}

// joinUnavailable keeps the cause while making it match ErrUnavailable
func joinUnavailable(err error) error {
	return fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
}
