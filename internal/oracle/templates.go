package oracle

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"

	"flowai/internal/domain"
)

// SystemPrompt frames every generation request.
const SystemPrompt = "You are a professional AI worker that claims tasks from an on-chain task board and delivers finished work. Reply with the deliverable only."

// PromptData is what a category template can reference.
type PromptData struct {
	ID           uint64
	Title        string
	Description  string
	Requirements string
	Category     string
	Reward       string
	Deadline     string
}

var defaultTemplates = map[domain.Category]string{
	domain.CategoryContentWriting: `Write the content described below.

Task: {{.Title}}
Description: {{.Description}}
Requirements: {{.Requirements}}

The piece must be original and useful, technically sound, clearly structured and fluently written.
Output the finished content directly.`,

	domain.CategoryProgramming: `Write the code described below.

Task: {{.Title}}
Description: {{.Description}}
Technical requirements: {{.Requirements}}

The code must be complete and correct, clearly structured with useful comments, and handle errors and edge cases.
Output the code directly.`,

	domain.CategoryDesign: `Produce the design described below.

Task: {{.Title}}
Description: {{.Description}}
Design requirements: {{.Requirements}}

Cover the concept, layout and key elements, colour and visual style, user experience, and implementation notes.
Output the design proposal directly.`,

	domain.CategoryTranslation: `Carry out the translation described below.

Task: {{.Title}}
Description: {{.Description}}
Translation requirements: {{.Requirements}}

Keep the original meaning, read naturally in the target language, render terminology precisely and respect cultural context.
Output the translation directly.`,

	domain.CategoryResearch: `Carry out the research described below.

Task: {{.Title}}
Description: {{.Description}}
Research requirements: {{.Requirements}}

Include background and goals, methodology, data and analysis, findings and conclusions, and recommendations.
Output the research report directly.`,

	domain.CategoryGeneral: `Complete the task described below.

Task: {{.Title}}
Description: {{.Description}}
Requirements: {{.Requirements}}

Make sure the requirements are fully understood, give a detailed and accurate solution, and explain it clearly.
Output the result directly.`,
}

// Templates maps every category to its prompt template.
type Templates map[domain.Category]*template.Template

// DefaultTemplates returns the built-in prompt set.
func DefaultTemplates() Templates {
	out := make(Templates, len(defaultTemplates))
	for cat, text := range defaultTemplates {
		out[cat] = template.Must(template.New(cat.String()).Option("missingkey=error").Parse(text))
	}
	return out
}

type templateFile struct {
	Templates map[string]string `toml:"templates"`
}

// LoadTemplates layers a TOML override file on top of the defaults:
//
//	[templates]
//	programming = "Write code for {{.Description}}"
//
// Keys are category names; unknown keys are an error.
func LoadTemplates(path string) (Templates, error) {
	out := DefaultTemplates()
	if strings.TrimSpace(path) == "" {
		return out, nil
	}
	var f templateFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("read templates %s: %w", path, err)
	}
	byName := make(map[string]domain.Category)
	for _, c := range domain.Categories() {
		byName[c.String()] = c
	}
	for name, text := range f.Templates {
		cat, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("templates %s: unknown category %q", path, name)
		}
		tpl, err := template.New(cat.String()).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("templates %s: %s: %w", path, name, err)
		}
		out[cat] = tpl
	}
	return out, nil
}

func (t Templates) render(cat domain.Category, data PromptData) (string, error) {
	tpl, ok := t[cat]
	if !ok {
		tpl, ok = t[domain.CategoryGeneral]
	}
	if !ok {
		return "", fmt.Errorf("no template for %s", cat)
	}
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", cat, err)
	}
	return b.String(), nil
}
