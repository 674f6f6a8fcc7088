package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultGenerateTimeout = 3 * time.Minute

// OpenAI calls an OpenAI-compatible /chat/completions endpoint. An empty
// Endpoint targets api.openai.com.
type OpenAI struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	Client      *http.Client
}

func (o OpenAI) Name() string { return "openai" }

func (o OpenAI) client() *openai.Client {
	cfg := openai.DefaultConfig(o.APIKey)
	if o.Endpoint != "" {
		cfg.BaseURL = strings.TrimRight(o.Endpoint, "/")
	}
	if o.Client != nil {
		cfg.HTTPClient = o.Client
	} else {
		cfg.HTTPClient = &http.Client{Timeout: defaultGenerateTimeout}
	}
	return openai.NewClientWithConfig(cfg)
}

func (o OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := o.client().CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.Model,
		Messages:    msgs,
		Temperature: float32(o.Temperature),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
