// Package kinetica is a small client for the analytics database REST API:
// paged record reads, view materialization by radius or expression, grouped
// aggregates and table boundaries.
package kinetica

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/logging"
	"github.com/joeblew999/kickbox/internal/metrics"
)

// Interceptor mutates every outgoing request before it is sent.
type Interceptor func(*http.Request)

// BasicAuth injects basic-auth credentials. Empty credentials are skipped.
func BasicAuth(username, password string) Interceptor {
	return func(r *http.Request) {
		if username == "" && password == "" {
			return
		}
		r.SetBasicAuth(username, password)
	}
}

// PluginName tags requests to any of hosts with a pluginName query parameter,
// the way map tile providers expect integrations to identify themselves.
func PluginName(name string, hosts ...string) Interceptor {
	return func(r *http.Request) {
		for _, h := range hosts {
			if strings.EqualFold(r.URL.Host, h) {
				q := r.URL.Query()
				q.Set("pluginName", name)
				r.URL.RawQuery = q.Encode()
				return
			}
		}
	}
}

// Client talks to one backend base URL.
type Client struct {
	baseURL      string
	http         *http.Client
	interceptors []Interceptor
	logger       *zap.Logger
	metrics      *metrics.Metrics
	loc          *time.Location

	boundaries singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (and its timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithInterceptor appends a request interceptor.
func WithInterceptor(i Interceptor) Option {
	return func(c *Client) { c.interceptors = append(c.interceptors, i) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// WithMetrics records request counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLocation sets the zone used to format epoch timestamps.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

// New returns a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope is the common response wrapper of every endpoint.
type envelope struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	DataType string `json:"data_type"`
	DataStr  string `json:"data_str"`
}

// Do sends req after running the interceptors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for _, i := range c.interceptors {
		i(req)
	}
	return c.http.Do(req)
}

// post sends body as JSON to endpoint and decodes data_str into out (unless
// out is nil).
func (c *Client) post(ctx context.Context, endpoint string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveBackend(endpoint, start, err)
		if err != nil {
			c.logger.Error("backend request failed", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return kberr.InvalidConfiguration(endpoint, "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return kberr.Network(endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return kberr.Network(endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return kberr.Network(endpoint, err)
	}

	var env envelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return kberr.Backend(endpoint, "status %d", resp.StatusCode)
		}
		return kberr.Backend(endpoint, "unparsable response: %v", jsonErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || strings.EqualFold(env.Status, "ERROR") {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return kberr.Backend(endpoint, "%s", msg)
	}

	if out == nil {
		return nil
	}
	if env.DataStr == "" {
		return kberr.Backend(endpoint, "empty data_str")
	}
	dec := json.NewDecoder(strings.NewReader(env.DataStr))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return kberr.Backend(endpoint, "unparsable data_str: %v", err)
	}
	return nil
}
