// Package upstream is the HTTP client for the remote carbon telemetry API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/types"
	"go.uber.org/zap"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:4000/api"

// DefaultTimeout bounds every upstream request.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 4096

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream %s returned HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Observer is notified after every upstream request.
type Observer interface {
	ObserveUpstream(endpoint string, status int, elapsed time.Duration, err error)
}

// Client talks to the remote API. It is safe for concurrent use.
type Client struct {
	base     *url.URL
	http     *http.Client
	logger   *zap.SugaredLogger
	observer Observer
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithObserver attaches a request observer, typically the metrics registry.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient returns a client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream base URL %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// RecentReadings fetches the recent reading window.
func (c *Client) RecentReadings(ctx context.Context) ([]types.Reading, error) {
	var readings []types.Reading
	if err := c.getJSON(ctx, "/emissions/recent", nil, &readings); err != nil {
		return nil, err
	}
	if readings == nil {
		readings = []types.Reading{}
	}
	return readings, nil
}

// Hotspots fetches the per-department CO2 ranking.
func (c *Client) Hotspots(ctx context.Context) ([]types.Hotspot, error) {
	var hotspots []types.Hotspot
	if err := c.getJSON(ctx, "/emissions/hotspots", nil, &hotspots); err != nil {
		return nil, err
	}
	if hotspots == nil {
		hotspots = []types.Hotspot{}
	}
	return hotspots, nil
}

// Offsets fetches the offset ledger.
func (c *Client) Offsets(ctx context.Context) ([]types.Offset, error) {
	var offsets []types.Offset
	if err := c.getJSON(ctx, "/offsets", nil, &offsets); err != nil {
		return nil, err
	}
	if offsets == nil {
		offsets = []types.Offset{}
	}
	return offsets, nil
}

// AddOffset records a new offset and returns the ledger's copy of it.
func (c *Client) AddOffset(ctx context.Context, o types.NewOffset) (types.Offset, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return types.Offset{}, fmt.Errorf("failed to encode offset: %w", err)
	}

	var created types.Offset
	if err := c.do(ctx, http.MethodPost, "/offsets", nil, bytes.NewReader(body), &created); err != nil {
		return types.Offset{}, err
	}
	return created, nil
}

// ReportSummary fetches the authoritative rollup. A JSON null yields nil.
func (c *Client) ReportSummary(ctx context.Context) (*types.ReportSummary, error) {
	var summary *types.ReportSummary
	if err := c.getJSON(ctx, "/reports/summary", nil, &summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// Predict asks for a CO2 prediction minutesAhead into the future.
func (c *Client) Predict(ctx context.Context, minutesAhead int) (Prediction, error) {
	q := url.Values{}
	q.Set("minutesAhead", strconv.Itoa(minutesAhead))

	var raw json.RawMessage
	if err := c.getJSON(ctx, "/emissions/predict", q, &raw); err != nil {
		return Prediction{}, err
	}
	p, err := decodePrediction(raw)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to decode prediction: %w", err)
	}
	p.MinutesAhead = minutesAhead
	return p, nil
}

// AIStrategies fetches reduction strategies. The payload is returned
// untouched.
func (c *Client) AIStrategies(ctx context.Context, hours, topN int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("hours", strconv.Itoa(hours))
	q.Set("topN", strconv.Itoa(topN))

	var raw json.RawMessage
	if err := c.getJSON(ctx, "/ai/strategies", q, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ReportParams mirrors the dashboard filter for PDF report generation.
type ReportParams struct {
	From       string
	To         string
	Department string
	Scope      string
}

// ReportURL builds the PDF report link. The cache-busting "t" parameter is
// taken from now.
func (c *Client) ReportURL(p ReportParams, now time.Time) string {
	q := url.Values{}
	if p.From != "" {
		q.Set("from", p.From)
	}
	if p.To != "" {
		q.Set("to", p.To)
	}
	if p.Department != "" {
		q.Set("department", p.Department)
	}
	if p.Scope != "" {
		q.Set("scope", p.Scope)
	}
	q.Set("t", strconv.FormatInt(now.UnixMilli(), 10))
	return c.endpoint("/reports/generate", q)
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, out any) (err error) {
	start := time.Now()
	status := 0
	defer func() {
		if c.observer != nil {
			c.observer.ObserveUpstream(path, status, time.Since(start), err)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	c.logger.Debugf("upstream %s %s -> %d in %v", method, path, resp.StatusCode, time.Since(start))
	return nil
}
