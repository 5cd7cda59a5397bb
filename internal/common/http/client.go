// Package http is the single-request gateway to provider endpoints. It owns the
// round-trip timeout and the mapping of transport outcomes onto the error taxonomy.
// It never retries.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "research-agent/internal/common/errors"
	"research-agent/internal/common/logger"
	"research-agent/internal/common/metrics"
)

const maxErrorBody = 512

// Config configures a Client. APIKey is sent as a bearer token and never logged.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration // applied when a call passes a zero timeout
	UserAgent string
}

// Request describes one provider call. Endpoint is joined to BaseURL unless it is absolute.
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	Payload  interface{}
	Headers  map[string]string
	Label    string // metrics/log label; defaults to the endpoint path
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     logger.Logger
}

func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "research-agent/1.0"
	}
	// no client-level timeout: each call carries its own context deadline
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     log,
	}
}

// NewClientWithHTTP lets tests and callers supply their own transport.
func NewClientWithHTTP(cfg Config, hc *http.Client, log logger.Logger) *Client {
	c := NewClient(cfg, log)
	c.httpClient = hc
	return c
}

// Call POSTs payload as JSON and returns the decoded-as-raw JSON response.
func (c *Client) Call(ctx context.Context, endpoint string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Endpoint: endpoint, Payload: payload}, timeout)
}

// Do performs req under timeout. A 2xx with an empty body yields (nil, nil).
func (c *Client) Do(ctx context.Context, req Request, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	label := req.Label
	if label == "" {
		label = endpointLabel(req.Endpoint)
	}
	start := time.Now()

	body, status, err := c.roundTrip(ctx, req)
	elapsed := time.Since(start)
	metrics.GatewayRequestDuration.WithLabelValues(label).Observe(elapsed.Seconds())

	if err != nil {
		mapped := c.mapTransportError(ctx, label, timeout, err)
		metrics.GatewayRequests.WithLabelValues(label, string(apperrors.CodeOf(mapped))).Inc()
		c.logger.Debug("provider call failed", map[string]interface{}{
			"endpoint":   label,
			"durationMs": elapsed.Milliseconds(),
			"error":      mapped.Error(),
		})
		return nil, mapped
	}

	if status < 200 || status > 299 {
		metrics.GatewayRequests.WithLabelValues(label, string(apperrors.ErrCodeUpstream)).Inc()
		c.logger.Debug("provider returned error status", map[string]interface{}{
			"endpoint":   label,
			"status":     status,
			"durationMs": elapsed.Milliseconds(),
		})
		return nil, apperrors.NewUpstreamError(label, status, excerpt(body))
	}

	metrics.GatewayRequests.WithLabelValues(label, "ok").Inc()
	c.logger.Debug("provider call completed", map[string]interface{}{
		"endpoint":   label,
		"status":     status,
		"bytes":      len(body),
		"durationMs": elapsed.Milliseconds(),
	})

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, apperrors.NewInvalidPayloadError(label, status, fmt.Errorf("response is not JSON: %s", excerpt(body)))
	}
	return json.RawMessage(body), nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) ([]byte, int, error) {
	target, err := c.resolve(req.Endpoint, req.Query)
	if err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if req.Payload != nil {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encode payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, err
	}
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) resolve(endpoint string, query url.Values) (string, error) {
	var target string
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		target = endpoint
	} else {
		target = strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// mapTransportError classifies a failed round trip. Any expiry or cancellation of
// the call's context means the budget ended, so it is reported as a timeout.
func (c *Client) mapTransportError(ctx context.Context, label string, timeout time.Duration, err error) error {
	if ctx.Err() != nil {
		return apperrors.NewTimeoutError(label, timeout, err)
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return apperrors.NewTimeoutError(label, timeout, err)
	}
	return apperrors.NewNetworkError(label, err)
}

// endpointLabel strips scheme, host and query so labels stay low-cardinality and
// never carry credentials.
func endpointLabel(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Path != "" {
		return u.Path
	}
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= maxErrorBody {
		return s
	}
	cut := s[:maxErrorBody]
	for len(cut) > 0 && !utf8.RuneStart(s[len(cut)]) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
