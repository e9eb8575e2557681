package fastapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"chat-relay/internal/domain"
)

// DefaultTimeout bounds the single backend call per invocation.
const DefaultTimeout = 20 * time.Second

// chatPayload is the request shape the FastAPI chat endpoint expects.
type chatPayload struct {
	Message             string               `json:"message"`
	ConversationHistory []domain.ChatMessage `json:"conversationHistory"`
}

// chatResult is the expected success response shape. Result is a pointer so
// a 2xx body without the field is distinguishable from an empty reply.
type chatResult struct {
	Result *string `json:"result"`
}

// ErrEndpointNotConfigured is returned when neither the configured endpoint
// nor the parameter-store fallback yields a backend URL.
var ErrEndpointNotConfigured = errors.New("fastapi: backend endpoint URL not configured")

// Getter fetches a named configuration parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures a backend response with status >= 400.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fastapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// InvalidResponseError captures a 2xx backend response whose body is not the
// contract the relay expects.
type InvalidResponseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *InvalidResponseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fastapi: invalid response from %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("fastapi: invalid response from %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

// Client talks to the FastAPI chat backend.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	endpointOnce     sync.Once
	resolvedEndpoint string
	resolveErr       error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithParamStore configures an SSM-backed fallback for the endpoint URL,
// looked up at {prefix}/fastapi-endpoint-url on first use.
func WithParamStore(getter Getter, paramPrefix string) Option {
	return func(c *Client) {
		c.getter = getter
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	}
}

// NewClient creates a Client for the given backend base URL. An empty
// endpoint is not a construction error: resolution is deferred to the first
// Send so a misconfigured function still answers requests with a structured
// configuration failure instead of crashing at startup.
func NewClient(endpoint string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resolveEndpoint returns the configured endpoint, falling back to the
// parameter store once per process lifetime.
func (c *Client) resolveEndpoint(ctx context.Context) (string, error) {
	if c.endpoint != "" {
		return c.endpoint, nil
	}
	if c.getter == nil || c.paramPrefix == "" {
		return "", ErrEndpointNotConfigured
	}
	c.endpointOnce.Do(func() {
		v, err := c.getter.GetParameter(ctx, c.paramPrefix+"/fastapi-endpoint-url")
		if err != nil {
			c.resolveErr = fmt.Errorf("fastapi: resolve endpoint from paramstore (%v): %w", err, ErrEndpointNotConfigured)
			return
		}
		c.resolvedEndpoint = strings.TrimSpace(v)
	})
	if c.resolveErr != nil {
		return "", c.resolveErr
	}
	if c.resolvedEndpoint == "" {
		return "", ErrEndpointNotConfigured
	}
	return c.resolvedEndpoint, nil
}

func chatURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + "/chat/"
}

// Send posts one message plus history to the backend and returns the
// assistant reply. Transport errors are returned unwrapped enough for the
// caller to classify timeouts; contract violations come back as
// *HTTPStatusError or *InvalidResponseError.
func (c *Client) Send(ctx context.Context, message string, history []domain.ChatMessage) (string, error) {
	endpoint, err := c.resolveEndpoint(ctx)
	if err != nil {
		return "", err
	}

	if history == nil {
		history = []domain.ChatMessage{}
	}
	body, err := json.Marshal(chatPayload{Message: message, ConversationHistory: history})
	if err != nil {
		return "", fmt.Errorf("fastapi: marshal payload: %w", err)
	}

	url := chatURL(endpoint)
	slog.Info("forwarding chat message to backend", "url", url)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("fastapi: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", err
	}

	var payload chatResult
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", &InvalidResponseError{URL: url, Reason: "body is not valid JSON", Err: decErr}
	}
	if payload.Result == nil {
		return "", &InvalidResponseError{URL: url, Reason: "missing result field"}
	}
	return *payload.Result, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("fastapi: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("fastapi: read response body: %w", err)
	}
	return buf, nil
}
