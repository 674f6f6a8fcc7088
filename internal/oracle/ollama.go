package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const DefaultOllamaURL = "http://127.0.0.1:11434"

// Ollama generates through a local Ollama server.
type Ollama struct {
	client      *api.Client
	Model       string
	Temperature float64
}

func NewOllama(endpoint, model string, temperature float64, httpClient *http.Client) (*Ollama, error) {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultOllamaURL
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("ollama endpoint: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultGenerateTimeout}
	}
	return &Ollama{client: api.NewClient(base, httpClient), Model: model, Temperature: temperature}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	stream := false
	gr := &api.GenerateRequest{
		Model:   o.Model,
		System:  req.System,
		Prompt:  req.Prompt,
		Stream:  &stream,
		Options: map[string]any{"temperature": o.Temperature},
	}
	var b strings.Builder
	err := o.client.Generate(ctx, gr, func(r api.GenerateResponse) error {
		b.WriteString(r.Response)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
