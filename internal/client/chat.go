package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/markis/aichat/internal/conversation"
	"github.com/markis/aichat/internal/stream"
)

const (
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel   = "qwen3-max-preview"

	// maxErrorBody bounds how much of a failed response is read for its message.
	maxErrorBody = 64 * 1024
)

// Message is one entry of the request history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Client sends chat requests to an OpenAI-compatible endpoint and decodes
// the streamed answer.
type Client struct {
	baseURL   string
	model     string
	apiKey    string
	headers   map[string]string
	http      *http.Client
	logger    *slog.Logger
	chunkSize int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithHeaders adds headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithLogger sets the logger passed on to stream sessions.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithChunkSize bounds the size of chunks read from the response body.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		c.chunkSize = n
	}
}

// New creates a client. Empty baseURL and model fall back to the defaults.
func New(baseURL, model, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		headers: defaultHeaders(),
		http:    getHTTPClient(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// defaultHeaders returns the default headers for the API requests.
func defaultHeaders() map[string]string {
	return map[string]string{
		"X-DashScope-SSE": "enable",
	}
}

var (
	httpClient     *http.Client
	httpClientOnce sync.Once
)

// getHTTPClient returns a singleton HTTP client. It has no overall timeout:
// a stream lasts as long as the answer, and callers bound it through the
// request context.
func getHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		transport := &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			ForceAttemptHTTP2:     true,
		}

		// Add context-aware dial options
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext

		httpClient = &http.Client{
			Transport: transport,
		}
	})
	return httpClient
}

// Chat streams the answer to history into sub and returns once the session
// reached a terminal state. Failures are reported through sub and the
// returned outcome only.
func (c *Client) Chat(ctx context.Context, history []conversation.Message, sub stream.Subscriber, opts ...stream.Opt) stream.Outcome {
	opts = append([]stream.Opt{stream.WithLogger(c.logger)}, opts...)
	return stream.NewSession(sub, opts...).Run(ctx, c.Open(history))
}

// Open returns the transport opener for a request carrying history.
func (c *Client) Open(history []conversation.Message) stream.OpenFunc {
	return func(ctx context.Context) (stream.Source, error) {
		return c.open(ctx, history)
	}
}

func (c *Client) open(ctx context.Context, history []conversation.Message) (stream.Source, error) {
	data, err := json.Marshal(c.prepareInput(history))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.Body == nil {
		return nil, stream.ErrNoBody
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() {
			if err := resp.Body.Close(); err != nil {
				c.logger.Debug("failed to close response body", "error", err)
			}
		}()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &stream.TransportError{
			Status:  resp.StatusCode,
			Message: errorMessage(body),
		}
	}

	c.logger.Debug("stream response", "status", resp.StatusCode, "content_type", resp.Header.Get("Content-Type"))
	return stream.NewReaderSource(resp.Body, c.chunkSize), nil
}

// prepareInput builds the request payload. Empty messages, such as a reply
// placeholder left by an interrupted session, are not sent.
func (c *Client) prepareInput(history []conversation.Message) chatRequest {
	messages := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		messages = append(messages, Message{Role: string(m.Role), Content: m.Content})
	}
	return chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	}
}

// errorMessage extracts the upstream message from an error body, either
// {"error":{"message":...}} or {"message":...}.
func errorMessage(body []byte) string {
	var payload struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return payload.Message
}
