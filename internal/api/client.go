// Package api is the client for the remote store API: catalog, hardware
// bridge, customers, bills and staff users.
package api

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"FruitMarket/pkg/kit"
)

const (
	defaultTimeout = 3 * time.Second
	maxErrBody     = 4 << 10
)

var (
	ErrNotFound     = errors.New("api: not found")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrBadStatus    = errors.New("api: bad status")
	ErrUnavailable  = errors.New("api: unavailable")
	ErrDecode       = errors.New("api: undecodable response")
)

// TokenSource supplies the bearer token for authenticated calls. An empty
// token sends the request without Authorization.
type TokenSource interface {
	Token() string
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Limiter *rate.Limiter
	Tokens  TokenSource
	Log     *zap.Logger

	latestPath string
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTP.Timeout = d
		}
	}
}

// WithRateLimit throttles outbound calls; the hardware bridge on the kiosk
// LAN falls over under bursts. Zero rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.Limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.Tokens = ts }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.Log = kit.OrNop(l) }
}

// WithLatestPath overrides the identification endpoint path; some bridge
// deployments mount it under /api.
func WithLatestPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.latestPath = p
		}
	}
}

// WithHTTPClient replaces the transport wholesale, e.g. with an httptest
// server's client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.HTTP = h
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	if u, err := url.Parse(baseURL); err == nil && u.Scheme != "" && u.Host != "" {
		baseURL = strings.TrimRight(baseURL, "/")
	}
	c := &Client{
		BaseURL: baseURL,
		HTTP: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Log:        zap.NewNop(),
		latestPath: "/files/latest",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// do sends one request and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Tokens != nil {
		if tok := c.Tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	if key, ok := idempotencyKeyFrom(ctx); ok {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Caller cancellation is not an outage.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp, method, path); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrDecode, method, path, err)
	}
	return nil
}

func statusError(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s %s: status=%d", ErrUnavailable, method, path, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %s %s: status=%d body=%q", ErrBadStatus, method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
}

type idempotencyKey struct{}

// WithIdempotencyKey tags every request made with ctx with an
// Idempotency-Key header.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

func idempotencyKeyFrom(ctx context.Context) (string, bool) {
	k, ok := ctx.Value(idempotencyKey{}).(string)
	return k, ok && k != ""
}

// IsNetwork reports whether err is a transport or server-side failure, as
// opposed to a validation or not-found outcome.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrBadStatus) ||
		errors.Is(err, ErrDecode) || errors.Is(err, context.DeadlineExceeded)
}
