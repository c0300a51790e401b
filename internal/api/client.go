// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/jeranaias/petwell/internal/logging"
	"github.com/jeranaias/petwell/internal/offline"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the largest body the client will read.
	MaxResponseSize = 4 * 1024 * 1024

	// CSRFHeader carries the CSRF token on state-changing requests.
	CSRFHeader = "X-CSRF-Token"

	userAgent = "petwell-go/1.0"
)

var (
	// ErrUnauthorized is returned for HTTP 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned for HTTP 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
	ErrResponseTooLarge = errors.New("response too large")

	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("backend unavailable: circuit open")
)

// APIError is any other non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("api error (HTTP %d): %s", e.Status, e.Message)
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sharedHTTPClient pools connections for every Client that does not bring
// its own.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	},
	Timeout: DefaultTimeout,
}

// Client talks to the backend.
type Client struct {
	baseURL string
	host    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger

	mu     sync.Mutex
	csrf   string
	tokens func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout keeps the shared connection pool but bounds each request by d.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http = &http.Client{Transport: sharedHTTPClient.Transport, Timeout: d}
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(cl *Client) { cl.log = l }
}

// WithBreaker replaces the circuit breaker settings. Name and IsSuccessful
// are filled in when left empty.
func WithBreaker(st gobreaker.Settings) Option {
	return func(cl *Client) {
		cl.breaker = newBreaker(st)
	}
}

// WithTokenSource sets where snapshot requests get their bearer token.
func WithTokenSource(fn func() string) Option {
	return func(cl *Client) { cl.tokens = fn }
}

// DefaultBreakerSettings trips after at least three requests with a 60%
// failure ratio and probes again after three seconds.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "petwell-api",
		MaxRequests: 100,
		Interval:    5 * time.Second,
		Timeout:     3 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	}
}

func newBreaker(st gobreaker.Settings) *gobreaker.CircuitBreaker {
	if st.Name == "" {
		st.Name = "petwell-api"
	}
	if st.IsSuccessful == nil {
		st.IsSuccessful = countsAsSuccess
	}
	return gobreaker.NewCircuitBreaker(st)
}

// countsAsSuccess keeps answers the server gave on purpose (auth failures,
// throttling, validation errors) from tripping the breaker. Transport errors
// and 5xx do.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status < 500
	}
	return errors.Is(err, context.Canceled)
}

// New validates baseURL and creates a client.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if err := offline.ValidateURL(baseURL); err != nil {
		return nil, fmt.Errorf("api base url: %w", err)
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api base url: %w", err)
	}
	c := &Client{
		baseURL: baseURL,
		host:    parsed.Host,
		http:    sharedHTTPClient,
		log:     logging.Std(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = newBreaker(DefaultBreakerSettings())
	}
	return c, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }

// SetTokenSource sets the bearer token source for snapshot requests.
func (c *Client) SetTokenSource(fn func() string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = fn
}

// =============================================================================
// TRANSPORT
// =============================================================================

type request struct {
	method string
	path   string
	body   any
	bearer string
	// mutating requests carry the CSRF header.
	mutating bool
	// retried is set on the single resend after a 403.
	retried bool
}

// do runs req through the offline gate and the breaker and decodes a 2xx
// body into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	if err := offline.CheckHostAllowed(c.host); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, req, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, req request, out any) error {
	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}
	if req.mutating {
		token, err := c.csrfToken(ctx)
		if err != nil {
			return err
		}
		httpReq.Header.Set(CSRFHeader, token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	c.log.WithFields(logrus.Fields{
		"method":   req.method,
		"path":     req.path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("api request")

	data, err := readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusForbidden && req.mutating {
		c.mu.Lock()
		c.csrf = ""
		c.mu.Unlock()
		if !req.retried {
			c.log.WithField("path", req.path).Debug("csrf token rejected, retrying with a fresh token")
			req.retried = true
			return c.roundTrip(ctx, req, out)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.path, err)
	}
	return nil
}

// csrfToken returns the cached CSRF token, fetching it on first use.
func (c *Client) csrfToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.csrf
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	var resp struct {
		Token    string `json:"csrf_token"`
		TokenAlt string `json:"token"`
	}
	if err := c.roundTrip(ctx, request{method: http.MethodGet, path: "/auth/csrf"}, &resp); err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	token = resp.Token
	if token == "" {
		token = resp.TokenAlt
	}
	if token == "" {
		return "", errors.New("fetch csrf token: empty token")
	}

	c.mu.Lock()
	c.csrf = token
	c.mu.Unlock()
	return token, nil
}

func readResponse(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

func statusError(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}

	switch status {
	case http.StatusUnauthorized:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		}
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrRateLimited, msg)
		}
		return ErrRateLimited
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Code: eb.Code, Message: msg}
}
