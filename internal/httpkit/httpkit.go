// Package httpkit provides shared HTTP client construction for all
// outbound calls: search providers, model gateways, page fetches. It
// enforces consistent timeouts, connection limits, and a User-Agent.
package httpkit

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/artifex-labs/artifex/internal/buildinfo"
)

// Default timeouts and connection pool limits for the shared transport.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// ClientOption configures a Client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout       time.Duration
	userAgent     string
	skipUserAgent bool
	transport     *http.Transport
}

// WithTimeout sets the overall request timeout on the http.Client.
// A zero value disables the timeout (useful for streaming responses).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// WithoutUserAgent disables the automatic User-Agent roundtripper.
func WithoutUserAgent() ClientOption {
	return func(c *clientConfig) { c.skipUserAgent = true }
}

// WithTransport overrides the default shared transport.
// Use sparingly — the shared transport handles connection pooling.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// NewTransport creates an http.Transport with sensible defaults.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client with the shared transport and
// good-citizen defaults (timeouts, User-Agent, connection limits).
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:   30 * time.Second,
		userAgent: buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	t := cfg.transport
	if t == nil {
		t = NewTransport()
	}

	var rt http.RoundTripper = t
	if !cfg.skipUserAgent {
		rt = &userAgentTransport{
			base: t,
			ua:   cfg.userAgent,
		}
	}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: rt,
	}
}

// userAgentTransport injects the User-Agent header on every request
// unless one is already set.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// Clone the request to avoid mutating the original, per RoundTripper contract.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// DrainAndClose reads up to limit bytes from rc and closes it.
// Use to ensure HTTP connections are returned to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes from rc for error messages,
// then drains and closes the remainder to allow connection reuse.
// Returns an empty string if rc is nil.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
