// Package openai calls the chat completions endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sheet-etl/internal/fetch"
)

var ErrEmptyAnswer = errors.New("no choices in completion")

type Client struct {
	http *fetch.Client
	base string
	key  string
}

// New returns a client for base (https://api.openai.com/v1) using key as
// bearer token.
func New(http *fetch.Client, base, key string) *Client {
	return &Client{http: http, base: strings.TrimRight(base, "/"), key: key}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one system and one user message and returns the trimmed
// content of the first choice. An empty system prompt is left out.
func (c *Client) Complete(ctx context.Context, model, system, user string, maxTokens int) (string, error) {
	req := completionRequest{Model: model, MaxTokens: maxTokens}
	if system != "" {
		req.Messages = append(req.Messages, Message{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, Message{Role: "user", Content: user})

	var res completionResponse
	headers := map[string]string{"Authorization": "Bearer " + c.key}
	if err := c.http.PostJSON(ctx, c.base+"/chat/completions", headers, req, &res); err != nil {
		return "", err
	}
	if res.Error != nil {
		return "", fmt.Errorf("openai: %s", res.Error.Message)
	}
	if len(res.Choices) == 0 {
		return "", ErrEmptyAnswer
	}
	return strings.TrimSpace(res.Choices[0].Message.Content), nil
}
