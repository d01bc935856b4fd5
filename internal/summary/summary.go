// Package summary produces a short natural-language digest of a merged
// record through an OpenAI-compatible chat completions endpoint.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("summary: disabled")

// Summarizer turns a merged record into prose.
type Summarizer interface {
	Summarize(ctx context.Context, record map[string]any) (string, error)
}

const systemPrompt = "Составь краткую сводку по данным проверки контрагента. " +
	"Перечисли только значимые факты: банкротства, арбитражные дела, штрафы, залоги. " +
	"Не выдумывай данные, которых нет."

// Client calls a chat completions API.
type Client struct {
	http  *resty.Client
	model string
}

// New creates a summary client. model defaults to gpt-4o-mini.
func New(baseURL, key, model string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(key),
		model: model,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize sends the record as JSON and returns the model's digest.
func (c *Client) Summarize(ctx context.Context, record map[string]any) (string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("summary: encode record: %w", err)
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: string(payload)},
			},
		}).
		SetResult(&out).
		Post("/v1/chat/completions")
	if err != nil {
		return "", fmt.Errorf("summary: request: %w", err)
	}
	if resp.IsError() {
		if out.Error != nil {
			return "", fmt.Errorf("summary: api: %s", out.Error.Message)
		}
		return "", fmt.Errorf("summary: api status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", errors.New("summary: empty answer")
	}
	return out.Choices[0].Message.Content, nil
}

// Disabled is the Summarizer used when no key is configured.
type Disabled struct{}

// Summarize always reports ErrDisabled.
func (Disabled) Summarize(context.Context, map[string]any) (string, error) {
	return "", ErrDisabled
}
