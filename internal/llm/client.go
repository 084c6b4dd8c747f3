// Package llm provides LLM client implementations.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools uses the OpenAI function-calling shape produced by the
	// tool registry; providers convert it at their boundary.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any, opts ...ChatOption) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// ChatOption adjusts a single Chat request.
type ChatOption func(*chatConfig)

type chatConfig struct {
	temperature *float64
	maxTokens   int
}

// WithTemperature sets the sampling temperature. Zero is a valid value
// and is sent explicitly.
func WithTemperature(t float64) ChatOption {
	return func(c *chatConfig) { c.temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) ChatOption {
	return func(c *chatConfig) { c.maxTokens = n }
}

func applyChatOptions(opts []ChatOption) chatConfig {
	var c chatConfig
	for _, o := range opts {
		o(&c)
	}
	return c
}
