package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"flowai/internal/domain"
)

type recordingGen struct {
	out  string
	err  error
	last Request
}

func (g *recordingGen) Name() string { return "recording" }

func (g *recordingGen) Generate(ctx context.Context, req Request) (string, error) {
	g.last = req
	return g.out, g.err
}

func sampleTask(category string) domain.Task {
	return domain.Task{
		ID:           4,
		Title:        domain.Localized(map[string]string{"en": "Translate docs", "zh": "翻译技术文档"}),
		Description:  domain.Plain("Translate the SDK guide"),
		Requirements: domain.Localized(map[string]string{"en": "Keep terms consistent", "zh": "术语统一"}),
		Reward:       big.NewInt(800_000_000_000_000_000),
		Category:     category,
	}
}

func TestPromptDispatchesByCategory(t *testing.T) {
	a := NewAdapter(&recordingGen{}, nil, "en", "")
	cases := map[string]domain.Category{
		"content_writing": domain.CategoryContentWriting,
		"smart contract":  domain.CategoryProgramming,
		"UI design":       domain.CategoryDesign,
		"translation":     domain.CategoryTranslation,
		"research":        domain.CategoryResearch,
		"misc":            domain.CategoryGeneral,
	}
	for label, want := range cases {
		cat, prompt, err := a.Prompt(sampleTask(label))
		require.NoError(t, err)
		require.Equal(t, want, cat, label)
		require.Contains(t, prompt, "Description: Translate the SDK guide")
		require.Contains(t, prompt, "Keep terms consistent")
	}
	_, prompt, err := a.Prompt(sampleTask("translation"))
	require.NoError(t, err)
	require.Contains(t, prompt, "Translation requirements:")
}

func TestPromptUsesLocale(t *testing.T) {
	a := NewAdapter(&recordingGen{}, nil, "zh", "en")
	_, prompt, err := a.Prompt(sampleTask("translation"))
	require.NoError(t, err)
	require.Contains(t, prompt, "Task: 翻译技术文档")
	require.Contains(t, prompt, "术语统一")
}

func TestProduce(t *testing.T) {
	gen := &recordingGen{out: "  translated text \n"}
	a := NewAdapter(gen, nil, "en", "")
	out, err := a.Produce(context.Background(), sampleTask("translation"))
	require.NoError(t, err)
	require.Equal(t, "translated text", out)
	require.Equal(t, SystemPrompt, gen.last.System)

	gen.out = "   "
	_, err = a.Produce(context.Background(), sampleTask("translation"))
	require.ErrorIs(t, err, ErrEmptyResult)

	boom := errors.New("quota exceeded")
	gen.err = boom
	_, err = a.Produce(context.Background(), sampleTask("translation"))
	require.ErrorIs(t, err, boom)
}

func TestLoadTemplates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.toml")
	require.NoError(t, os.WriteFile(path, []byte("[templates]\nprogramming = \"CODE {{.Title}} / {{.Requirements}}\"\n"), 0o644))

	tpls, err := LoadTemplates(path)
	require.NoError(t, err)
	a := NewAdapter(&recordingGen{}, tpls, "en", "")
	_, prompt, err := a.Prompt(sampleTask("programming"))
	require.NoError(t, err)
	require.Equal(t, "CODE Translate docs / Keep terms consistent", prompt)

	_, prompt, err = a.Prompt(sampleTask("research"))
	require.NoError(t, err)
	require.Contains(t, prompt, "Research requirements:")

	require.NoError(t, os.WriteFile(path, []byte("[templates]\nknitting = \"x\"\n"), 0o644))
	_, err = LoadTemplates(path)
	require.Error(t, err)

	tpls, err = LoadTemplates("")
	require.NoError(t, err)
	require.Len(t, tpls, len(domain.Categories()))
}

func TestOpenAIGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Temperature float64 `json:"temperature"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	gen := OpenAI{Endpoint: srv.URL + "/v3/", APIKey: "sk-test", Model: "deepseek-v3-250324", Temperature: 0.7}
	out, err := gen.Generate(context.Background(), Request{System: "sys", Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.Equal(t, "deepseek-v3-250324", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "hi", got.Messages[1].Content)
	require.InDelta(t, 0.7, got.Temperature, 1e-6)
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	_, err := OpenAI{Endpoint: srv.URL, Model: "m", Client: srv.Client()}.Generate(context.Background(), Request{Prompt: "hi"})
	require.ErrorContains(t, err, "status 429: rate limited")
}

func TestOllamaGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llama3","response":"local answer","done":true}` + "\n"))
	}))
	defer srv.Close()

	gen, err := NewOllama(srv.URL, "llama3", 0.2, srv.Client())
	require.NoError(t, err)
	out, err := gen.Generate(context.Background(), Request{System: "sys", Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "local answer", out)
	require.Equal(t, "llama3", got["model"])
	require.Equal(t, false, got["stream"])
}

func TestCannedIsDeterministic(t *testing.T) {
	a := NewAdapter(Canned{}, nil, "en", "")
	first, err := a.Produce(context.Background(), sampleTask("translation"))
	require.NoError(t, err)
	second, err := a.Produce(context.Background(), sampleTask("translation"))
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Contains(t, first, `"Translate docs"`)
}
