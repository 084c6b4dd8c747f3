package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/camppoia/leozera/internal/llm"
	"github.com/camppoia/leozera/internal/prompts"
	"github.com/camppoia/leozera/internal/transactions"
)

// DefaultCategory is used when no better category can be determined.
const DefaultCategory = "Outros"

// CategoryChooser picks the best of options for a transaction.
type CategoryChooser interface {
	Choose(ctx context.Context, description string, typ transactions.Type, options []string) (string, error)
}

// LLMCategoryChooser asks a language model to pick the category.
type LLMCategoryChooser struct {
	client llm.Client
	model  string
}

// NewLLMCategoryChooser creates a chooser that queries model via client.
func NewLLMCategoryChooser(client llm.Client, model string) *LLMCategoryChooser {
	return &LLMCategoryChooser{client: client, model: model}
}

// Choose implements CategoryChooser. The model's answer is matched back
// onto options; an unmatched answer yields DefaultCategory.
func (c *LLMCategoryChooser) Choose(ctx context.Context, description string, typ transactions.Type, options []string) (string, error) {
	if len(options) == 0 {
		return DefaultCategory, nil
	}

	prompt := prompts.CategoryPrompt(description, string(typ), typ.Label(), options)

	resp, err := c.client.Chat(ctx, c.model,
		[]llm.Message{{Role: llm.RoleUser, Content: prompt}},
		nil,
		llm.WithTemperature(0),
	)
	if err != nil {
		return DefaultCategory, fmt.Errorf("choose category: %w", err)
	}
	return matchCategory(resp.Message.Content, options), nil
}

// matchCategory maps a free-text answer onto options: case-insensitive
// exact match first, then containment in either direction.
func matchCategory(answer string, options []string) string {
	a := strings.ToLower(strings.Trim(strings.TrimSpace(answer), `"'.`))
	if a == "" {
		return DefaultCategory
	}
	for _, o := range options {
		if strings.ToLower(o) == a {
			return o
		}
	}
	for _, o := range options {
		lo := strings.ToLower(o)
		if strings.Contains(lo, a) || strings.Contains(a, lo) {
			return o
		}
	}
	return DefaultCategory
}
