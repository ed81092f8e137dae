package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
)

type (
	// Client opens AG-UI runs against an SSE endpoint. It implements
	// runtime.Transport.
	Client struct {
		endpoint string
		http     *http.Client
		header   http.Header
	}

	// ClientOption configures a Client.
	ClientOption func(*Client)

	// StatusError is returned when the server rejects a run request.
	StatusError struct {
		StatusCode int
		Body       string
	}
)

// WithHTTPClient sets the HTTP client used to open streams.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithHeader adds a header to every run request.
func WithHeader(key, value string) ClientOption {
	return func(cl *Client) { cl.header.Add(key, value) }
}

// NewClient returns a client posting runs to endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{endpoint: endpoint, http: http.DefaultClient, header: make(http.Header)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run posts input and calls yield with every event of the response in order.
// It returns nil when the server closes the stream.
func (c *Client) Run(ctx context.Context, input agui.RunAgentInput, yield func(agui.Event) error) error {
	body, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode run input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	dec := ssestream.NewDecoder(resp)
	for dec.Next() {
		frame := bytes.TrimSpace(dec.Event().Data)
		if len(frame) == 0 {
			continue
		}
		evt, err := agui.Decode(frame)
		if err != nil {
			return err
		}
		if err := yield(evt); err != nil {
			return err
		}
	}
	if err := dec.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("run request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("run request failed with status %d: %s", e.StatusCode, e.Body)
}
