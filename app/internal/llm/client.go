// Package llm talks to an OpenAI-compatible Chat Completions API.
//
// Two call shapes are offered: StreamText, which yields generated text as it
// arrives, and GenerateObject, which asks for a JSON object matching a schema
// of bounded string fields and validates the result.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

// Message is a role-tagged prompt message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Upstream sends a request to the provider and returns the live response.
// The rate-limited queue satisfies it.
type Upstream interface {
	Push(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client is a Chat Completions client bound to a single model.
type Client struct {
	baseURL  string
	apiKey   string
	model    string
	upstream Upstream
}

// NewClient creates a new Client. baseURL includes the version prefix,
// e.g. "https://api.openai.com/v1".
func NewClient(baseURL, apiKey, model string, upstream Upstream) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		upstream: upstream,
	}
}

// Model returns the model name sent with every request.
func (c *Client) Model() string {
	return c.model
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *Client) post(ctx context.Context, payload chatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if payload.Stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.upstream.Push(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var parsed struct {
			Error apiError `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: status=%d: %s", entities.ErrUpstream, resp.StatusCode, msg)
	}
	return resp, nil
}
