// Package fetch performs timed upstream JSON calls with classified failures,
// bounded exponential-backoff retry, and a route-fallback circuit that moves
// traffic to an alternate route while the direct one looks blocked.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxBodyBytes caps how much of a response body is read into memory.
const maxBodyBytes = 32 << 20

// Route selects the transport path for a call.
type Route int

const (
	RouteDirect Route = iota
	RouteAlternate
)

func (r Route) String() string {
	if r == RouteAlternate {
		return "alternate"
	}
	return "direct"
}

// ErrNoAlternate is returned when the alternate route is requested but not configured.
var ErrNoAlternate = errors.New("alternate route not configured")

// ClientConfig holds transport settings.
type ClientConfig struct {
	Timeout             time.Duration
	AlternateRouteURL   string // proxy URL; empty disables the alternate route
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	UserAgent           string
}

// Client issues single GET calls over a direct or alternate transport.
type Client struct {
	direct    *http.Client
	alternate *http.Client
	timeout   time.Duration
	userAgent string
	now       func() time.Time
}

// NewClient builds a Client. The alternate transport is created only when
// cfg.AlternateRouteURL is set.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 10
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	c := &Client{
		direct:    &http.Client{Transport: newTransport(cfg, nil)},
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		now:       time.Now,
	}

	if alt := strings.TrimSpace(cfg.AlternateRouteURL); alt != "" {
		proxyURL, err := url.Parse(alt)
		if err != nil || proxyURL.Scheme == "" || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid alternate route URL %s", MaskURL(alt))
		}
		c.alternate = &http.Client{Transport: newTransport(cfg, http.ProxyURL(proxyURL))}
	}

	return c, nil
}

func newTransport(cfg ClientConfig, proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = proxy
	t.MaxIdleConns = cfg.MaxIdleConns
	t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	t.IdleConnTimeout = cfg.IdleConnTimeout
	return t
}

// HasAlternate reports whether an alternate route is configured.
func (c *Client) HasAlternate() bool {
	return c.alternate != nil
}

// Fetch performs one GET bounded by the client timeout and returns the raw
// JSON body. Failures are *HTTPError, *NetworkError, *TimeoutError,
// *DecodeError, or the caller's context error.
func (c *Client) Fetch(ctx context.Context, rawURL string, route Route) (json.RawMessage, error) {
	hc := c.direct
	if route == RouteAlternate {
		if c.alternate == nil {
			return nil, ErrNoAlternate
		}
		hc = c.alternate
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, callCtx, rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.transportError(ctx, callCtx, rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{
			Status:     resp.StatusCode,
			URL:        rawURL,
			BodyPrefix: truncate(string(body), bodyPrefixLimit),
		}
		httpErr.RetryAfter, httpErr.HasRetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return nil, httpErr
	}

	// Some upstream edges answer JSON with text/plain or no content type at
	// all, so the body is validated regardless of the header.
	if !json.Valid(body) {
		ct := resp.Header.Get("Content-Type")
		return nil, &DecodeError{
			URL:        rawURL,
			BodyPrefix: truncate(string(body), bodyPrefixLimit),
			Err:        fmt.Errorf("invalid JSON body (content-type %q)", ct),
		}
	}

	return json.RawMessage(body), nil
}

func (c *Client) transportError(parent, call context.Context, rawURL string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return &TimeoutError{URL: rawURL, Timeout: c.timeout}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{URL: rawURL, Timeout: c.timeout}
	}
	return &NetworkError{Kind: classifyNetwork(err), URL: rawURL, Err: err}
}

// ParseRetryAfter converts a Retry-After header (delta seconds or HTTP-date)
// to a wait duration. The second result is false when the header is absent or
// unparsable. Dates in the past yield zero.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if isDigits(v) {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		const maxSecs = int64(24 * time.Hour / time.Second)
		if secs > maxSecs {
			secs = maxSecs
		}
		return time.Duration(secs) * time.Second, true
	}
	ts, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	if d := ts.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// MaskURL hides credentials in a URL for logging.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[invalid url]"
	}
	if u.User != nil {
		u.User = url.UserPassword("***", "***")
	}
	return u.String()
}
