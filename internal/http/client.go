// Package http provides the JSON HTTP client used to send probe attempts.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/PentesterFlow/authprobe/internal/errors"
)

// MaxBodySize caps how much of a response body is kept for diagnosis.
const MaxBodySize = 1 << 20

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends JSON POST requests and reports failures as data.
type Client struct {
	doer      Doer
	timeout   time.Duration
	userAgent string
	headers   map[string]string
	mu        sync.RWMutex
}

// ClientConfig holds configuration for the JSON client.
type ClientConfig struct {
	Timeout       time.Duration
	UserAgent     string
	Headers       map[string]string
	SkipTLSVerify bool
}

// DefaultClientConfig returns the defaults used by the probe.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:   10 * time.Second,
		UserAgent: "authprobe/1.0",
	}
}

// NewClient creates a client backed by a fresh *http.Client.
func NewClient(config ClientConfig) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	return NewClientWithDoer(&http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, config)
}

// NewClientWithDoer creates a client that sends requests through doer.
func NewClientWithDoer(doer Doer, config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultClientConfig().Timeout
	}
	return &Client{
		doer:      doer,
		timeout:   config.Timeout,
		userAgent: config.UserAgent,
		headers:   config.Headers,
	}
}

// SetHeaders sets custom headers for all requests.
func (c *Client) SetHeaders(headers map[string]string) {
	c.mu.Lock()
	c.headers = headers
	c.mu.Unlock()
}

// Response is the outcome of a single request. A transport failure leaves
// StatusCode at 0 and Body nil, with Error describing what went wrong.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Truncated  bool // Body was cut at MaxBodySize
	Error      *errors.ProbeError
	Duration   time.Duration
}

// PostJSON encodes body as JSON and POSTs it to targetURL. It never returns
// an error: every failure is reported on the Response.
func (c *Client) PostJSON(ctx context.Context, targetURL string, body interface{}, headers map[string]string) *Response {
	start := time.Now()
	result := &Response{URL: targetURL}

	payload, err := json.Marshal(body)
	if err != nil {
		result.Error = errors.NewProbeError(errors.Transport, targetURL, "encode", "failed to encode request body", err)
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		result.Error = errors.NewProbeError(errors.Transport, targetURL, "request_creation", "failed to create request", err)
		return result
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.mu.RUnlock()

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		result.Error = errors.Categorize(err, targetURL)
		result.Duration = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		// A truncated exchange counts as a transport failure: status stays 0.
		result.Error = errors.NewTransportError(targetURL, "body_read", err)
		result.Duration = time.Since(start)
		return result
	}

	if len(data) > MaxBodySize {
		data = data[:MaxBodySize]
		result.Truncated = true
	}

	result.StatusCode = resp.StatusCode
	result.Body = data
	result.Duration = time.Since(start)
	return result
}

// Close releases idle connections when the client owns an *http.Client.
func (c *Client) Close() {
	if hc, ok := c.doer.(*http.Client); ok {
		hc.CloseIdleConnections()
	}
}
