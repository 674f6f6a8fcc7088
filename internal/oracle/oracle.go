// Package oracle turns a claimed task into a generation request and returns
// the produced text. It holds no state and never retries.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"flowai/internal/domain"
)

// ErrEmptyResult is returned when the generator produced only whitespace.
var ErrEmptyResult = errors.New("generator returned an empty result")

// Request is one generation call.
type Request struct {
	System string
	Prompt string
}

// Generator is the external text-producing service.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

type Adapter struct {
	Gen       Generator
	Templates Templates
	// Locale and Fallback pick the language of multi-locale task text.
	Locale   string
	Fallback string
}

func NewAdapter(gen Generator, templates Templates, locale, fallback string) Adapter {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return Adapter{Gen: gen, Templates: templates, Locale: locale, Fallback: fallback}
}

// Prompt renders the category prompt for t without calling the generator.
func (a Adapter) Prompt(t domain.Task) (domain.Category, string, error) {
	cat := domain.Classify(t.Category)
	templates := a.Templates
	if templates == nil {
		templates = DefaultTemplates()
	}
	prompt, err := templates.render(cat, PromptData{
		ID:           t.ID,
		Title:        t.Title.Resolve(a.Locale, a.Fallback),
		Description:  t.Description.Resolve(a.Locale, a.Fallback),
		Requirements: t.Requirements.Resolve(a.Locale, a.Fallback),
		Category:     t.Category,
		Reward:       domain.FormatEther(t.Reward),
		Deadline:     domain.FormatTimestamp(t.Deadline),
	})
	return cat, prompt, err
}

func (a Adapter) Produce(ctx context.Context, t domain.Task) (string, error) {
	if a.Gen == nil {
		return "", errors.New("oracle: no generator configured")
	}
	cat, prompt, err := a.Prompt(t)
	if err != nil {
		return "", err
	}
	out, err := a.Gen.Generate(ctx, Request{System: SystemPrompt, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("%s generate %s task %d: %w", a.Gen.Name(), cat, t.ID, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("task %d: %w", t.ID, ErrEmptyResult)
	}
	return out, nil
}
