// Package upstream issues chat-completion requests against the configured
// LiteLLM-compatible proxy, retrying transient faults on the non-streaming
// path and piping SSE bytes through verbatim on the streaming path.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/internal/tlsutil"
)

// PoolConfig controls the underlying transport's connection reuse and
// per-phase timeouts. Connections are kept alive and pooled across requests.
// ConnectTimeout and TLSHandshakeTimeout bound the dial and handshake
// phases; ResponseTimeout bounds both the wait for response headers and,
// together with ConnectTimeout, the overall deadline applied to a
// non-streaming Complete call. Streaming calls are exempt from that overall
// deadline so a long-lived SSE response isn't cut short mid-stream.
type PoolConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	ConnectTimeout      time.Duration
	TLSHandshakeTimeout time.Duration
	ResponseTimeout     time.Duration
}

// DefaultPoolConfig mirrors values a single-upstream gateway proxy needs
// under moderate concurrency.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
		ConnectTimeout:      10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     60 * time.Second,
	}
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Pool    PoolConfig
	Retry   RetryPolicy
}

// Client talks to the upstream LLM proxy.
type Client struct {
	cfg     Config
	http    *http.Client
	retrier *retrier
	logger  *zap.Logger
}

// New builds a Client with a pooled, phase-timeout-aware transport and the
// given retry policy.
func New(cfg Config, logger *zap.Logger) *Client {
	pool := cfg.Pool
	if pool.MaxIdleConns == 0 {
		pool = DefaultPoolConfig()
	}
	cfg.Pool = pool

	client := tlsutil.SecureHTTPClient(tlsutil.TransportConfig{
		MaxIdleConns:          pool.MaxIdleConns,
		MaxIdleConnsPerHost:   pool.MaxIdleConnsPerHost,
		IdleConnTimeout:       pool.IdleConnTimeout,
		ConnectTimeout:        pool.ConnectTimeout,
		TLSHandshakeTimeout:   pool.TLSHandshakeTimeout,
		ResponseHeaderTimeout: pool.ResponseTimeout,
	})

	return &Client{
		cfg:     cfg,
		http:    client,
		retrier: newRetrier(cfg.Retry, logger),
		logger:  logger,
	}
}

// CompletionRequest mirrors the subset of the OpenAI chat-completions
// request body the gateway forwards upstream. Zero-value fields that were
// never set by the caller are omitted from the wire payload via `omitempty`.
type CompletionRequest struct {
	Model            string          `json:"model"`
	Messages         json.RawMessage `json:"messages"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Temperature      float32         `json:"temperature,omitempty"`
	TopP             float32         `json:"top_p,omitempty"`
	N                int             `json:"n,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	PresencePenalty  float32         `json:"presence_penalty,omitempty"`
	FrequencyPenalty float32         `json:"frequency_penalty,omitempty"`
	LogitBias        json.RawMessage `json:"logit_bias,omitempty"`
	User             string          `json:"user,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat   json.RawMessage `json:"response_format,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	Stream           bool            `json:"stream,omitempty"`

	// Extra carries top-level request fields the gateway does not
	// interpret (spec.md §6: "unknown fields pass through"). Merged into
	// the wire payload alongside the named fields above.
	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON merges the named fields with Extra so unrecognized
// OpenAI-compatible fields survive the round trip to the upstream proxy.
func (r CompletionRequest) MarshalJSON() ([]byte, error) {
	type alias CompletionRequest
	named, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return named, nil
	}

	merged := make(map[string]json.RawMessage, len(r.Extra))
	for k, v := range r.Extra {
		merged[k] = v
	}
	if err := json.Unmarshal(named, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// CompletionResponse is the raw upstream JSON body, kept opaque beyond the
// usage fields the gateway needs for quota accounting and logging.
type CompletionResponse struct {
	Raw   json.RawMessage
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) newRequest(ctx context.Context, req CompletionRequest) (*http.Request, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v1/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return httpReq, nil
}

// Complete issues a non-streaming completion request, retrying on
// {502,503,504} and connection-level faults per the configured RetryPolicy.
// The whole call, connect through body read, is bounded by
// ConnectTimeout+ResponseTimeout; Stream carries no such deadline since its
// body is a long-lived SSE stream rather than one bounded payload.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	req.Stream = false

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Pool.ConnectTimeout+c.cfg.Pool.ResponseTimeout)
	defer cancel()

	var out *CompletionResponse
	err := c.retrier.do(ctx, func(ctx context.Context) error {
		httpReq, err := c.newRequest(ctx, req)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 400 {
			return &HTTPError{StatusCode: resp.StatusCode, Body: body}
		}

		var decoded CompletionResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Body: body}
		}
		decoded.Raw = body
		out = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Chunk is one forwarded SSE line from the upstream stream, already in the
// `data: ...\n\n` wire format the gateway writes straight to the client.
type Chunk struct {
	Line []byte
	Err  error
}

// Stream opens a single streaming completion request and forwards each
// non-empty upstream line verbatim on the returned channel, terminating with
// a literal "data: [DONE]\n\n" sentinel. Streaming never retries: a mid-
// stream failure surfaces as a final Chunk carrying an *UnavailableError.
func (c *Client) Stream(ctx context.Context, req CompletionRequest) (<-chan Chunk, error) {
	req.Stream = true

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &UnavailableError{Cause: err}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}

	ch := make(chan Chunk)
	go c.pumpStream(resp.Body, ch)
	return ch, nil
}

const doneSentinel = "data: [DONE]\n\n"

func (c *Client) pumpStream(body io.ReadCloser, ch chan<- Chunk) {
	defer close(ch)
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			if strings.Contains(trimmed, "[DONE]") {
				ch <- Chunk{Line: []byte(doneSentinel)}
				return
			}
			ch <- Chunk{Line: append([]byte(trimmed), '\n', '\n')}
		}
		if err != nil {
			if err != io.EOF {
				ch <- Chunk{Err: &UnavailableError{Cause: err}}
			} else {
				ch <- Chunk{Line: []byte(doneSentinel)}
			}
			return
		}
	}
}
