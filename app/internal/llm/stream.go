package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

// ChunkStream yields generated text increments.
// Recv returns io.EOF once generation has finished; any other error means
// the generation did not complete.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

// StreamText starts a streaming completion for messages.
func (c *Client) StreamText(ctx context.Context, messages []Message) (ChunkStream, error) {
	resp, err := c.post(ctx, chatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}
	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

// sseStream parses "data:" events of a Chat Completions stream.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: stream ended before completion", entities.ErrUpstream)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: %w", entities.ErrUpstream, err)
			}
			return "", fmt.Errorf("%w: read stream: %v", entities.ErrUpstream, err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("%w: malformed stream event: %v", entities.ErrUpstream, err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("%w: %s", entities.ErrUpstream, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
