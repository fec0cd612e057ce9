package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go/packages/ssestream"
	"github.com/voiceline/checkgate/core"
	"github.com/voiceline/checkgate/logging"
)

// ErrMissingAPIKey indicates the provider credential was never configured.
// It is checked eagerly so requests that can never succeed fail with a clear
// message instead of an opaque 401.
var ErrMissingAPIKey = errors.New("upstream API key is required for proxying requests")

// errorBodyLimit caps how much of an upstream error body is echoed into the
// returned error.
const errorBodyLimit = 2048

// Options configure a Client.
type Options struct {
	// HTTPClient overrides the transport. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Timeout bounds one whole upstream call, streaming reads included.
	Timeout time.Duration
	Logger  logging.Logger
}

// Client issues chat-completion requests against one OpenAI-compatible
// endpoint. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient constructs a client for the given completions endpoint.
func NewClient(baseURL, apiKey string, optFns ...func(o *Options)) *Client {
	opts := Options{
		HTTPClient: http.DefaultClient,
		Timeout:    30 * time.Second,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
}

// Stream runs the streaming completion call. Each decoded chunk is handed to
// observe (when non-nil) before accumulation, so the observer sees exactly
// the deltas being assembled. On success it returns the fully reassembled
// assistant message and the finish reason.
//
// Any transport failure, non-success status or decode error is returned as an
// error with no partial message; the caller decides whether to fall back to
// Complete.
func (c *Client) Stream(ctx context.Context, payload core.CompletionPayload, observe func(core.Chunk)) (*core.Message, string, error) {
	payload.Stream = true

	resp, err := c.post(ctx, payload)
	if err != nil {
		return nil, "", err
	}

	stream := ssestream.NewStream[core.Chunk](ssestream.NewDecoder(resp), nil)
	defer stream.Close()

	acc := NewAccumulator()
	frames := 0
	for stream.Next() {
		ck := stream.Current()
		if observe != nil {
			observe(ck)
		}
		acc.Apply(ck)
		frames++
	}
	if err := stream.Err(); err != nil {
		return nil, "", fmt.Errorf("upstream stream read: %w", err)
	}

	msg, finish := acc.Message()
	c.logger.Debug("upstream.stream.done", "frames", frames, "finish_reason", finish, "tool_calls", len(msg.ToolCalls))

	return &msg, finish, nil
}

// Complete runs the non-streaming fallback call and returns the assistant
// message from the provider's structured response.
func (c *Client) Complete(ctx context.Context, payload core.CompletionPayload) (*core.Message, string, error) {
	payload.Stream = false
	payload.StreamOptions = nil

	resp, err := c.post(ctx, payload)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var completion core.Completion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, "", fmt.Errorf("upstream response decode: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, "", errors.New("upstream response contained no choices")
	}

	choice := completion.Choices[0]
	return &choice.Message, choice.FinishReason, nil
}

// post issues the request and validates the response status. The returned
// response body is open; the caller owns closing it.
func (c *Client) post(ctx context.Context, payload core.CompletionPayload) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("upstream payload marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("upstream request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	// Tie the timeout to the body so streaming reads stay bounded.
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()
		return nil, fmt.Errorf("upstream request failed with status %d: %s", resp.StatusCode, detail)
	}

	return resp, nil
}

// cancelReadCloser releases the request's timeout context when the body is
// closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
