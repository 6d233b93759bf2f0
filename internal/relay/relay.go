package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"costshield/internal/logging"
)

// Client forwards requests to the upstream provider API. It attaches the
// decrypted account credential and never logs or stores it.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logging.Logger
}

// NewClient creates a relay client for the given upstream base URL. timeout
// bounds dialing and the wait for response headers; body reads are governed
// by the request context, so completion streams can outlive it.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		logger: logging.NewLogger("relay"),
	}
}

// Usage is the token usage reported by the upstream in a response body or a
// streamed chunk. Seen distinguishes a genuine zero report from no report.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Seen             bool
}

// Response is the upstream's answer. Exactly one of Body and Stream is set:
// Body for buffered responses, Stream for a 200 streaming response the
// caller must drain and close.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     io.ReadCloser
	Usage      Usage
}

// Forward sends a request upstream. For stream=false the body is read in
// full and usage extracted from it. For stream=true a 200 hands back the
// live body; any other status is buffered so the caller can relay the error
// verbatim.
func (c *Client) Forward(ctx context.Context, method, path string, body []byte, bearer string, stream bool) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if stream && resp.StatusCode == http.StatusOK {
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Stream:     resp.Body,
		}, nil
	}

	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}

	if resp.StatusCode == http.StatusOK {
		out.Usage = extractUsage(respBody)
	}

	return out, nil
}

// extractUsage pulls token counts out of a response body. Both the chat
// completion field names and the responses-API variants are recognized.
func extractUsage(body []byte) Usage {
	var parsed struct {
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Usage == nil {
		return Usage{}
	}

	usage := Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		Seen:             true,
	}
	if usage.PromptTokens == 0 && parsed.Usage.InputTokens > 0 {
		usage.PromptTokens = parsed.Usage.InputTokens
	}
	if usage.CompletionTokens == 0 && parsed.Usage.OutputTokens > 0 {
		usage.CompletionTokens = parsed.Usage.OutputTokens
	}

	return usage
}
