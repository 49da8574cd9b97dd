// Package translate provides Japanese to English machine translation of whole
// lines, one at a time or in batches, backed by the OpenAI chat API.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrNoAPIKey is returned when the translator has no credentials.
	ErrNoAPIKey = errors.New("OpenAI API key not found")
	// ErrMalformedResponse is returned when the service answers in an
	// unexpected shape.
	ErrMalformedResponse = errors.New("malformed translation response")
)

// Translator translates source lines.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
	// TranslateBatch returns one translation per input, in input order.
	TranslateBatch(ctx context.Context, texts []string) ([]string, error)
}

const (
	singlePrompt = "You translate Japanese into natural English. Respond with only the English translation, nothing else."
	batchPrompt  = "You translate Japanese into natural English. The user sends a JSON array of Japanese lines. " +
		"Respond with only a JSON array of English strings, one per input line, in the same order and with the same length."
)

// OpenAI translates with a chat completion model.
type OpenAI struct {
	apiKey string
	model  string
	client *openai.Client
}

// NewOpenAI creates a translator. baseURL may be empty for the public API.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		apiKey: apiKey,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

// Translate translates one line.
func (t *OpenAI) Translate(ctx context.Context, text string) (string, error) {
	content, err := t.complete(ctx, singlePrompt, text)
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", fmt.Errorf("%w: empty translation", ErrMalformedResponse)
	}
	return content, nil
}

// TranslateBatch translates many lines with a single request.
func (t *OpenAI) TranslateBatch(ctx context.Context, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(texts)
	if err != nil {
		return nil, err
	}
	content, err := t.complete(ctx, batchPrompt, string(payload))
	if err != nil {
		return nil, err
	}
	return parseBatch(content, len(texts))
}

func (t *OpenAI) complete(ctx context.Context, system, user string) (string, error) {
	if t.apiKey == "" {
		return "", ErrNoAPIKey
	}

	req := openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
	}

	resp, err := t.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// parseBatch decodes a JSON array answer, tolerating a markdown code fence
// around it.
func parseBatch(content string, want int) ([]string, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var out []string
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out) != want {
		return nil, fmt.Errorf("%w: got %d translations for %d lines", ErrMalformedResponse, len(out), want)
	}
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
		if out[i] == "" {
			return nil, fmt.Errorf("%w: empty translation at %d", ErrMalformedResponse, i)
		}
	}
	return out, nil
}
