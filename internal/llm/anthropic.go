package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/camppoia/leozera/internal/httpkit"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client. Extra request
// options (base URL, retries) are passed through to the SDK.
func NewAnthropicClient(apiKey string, logger *slog.Logger, opts ...option.RequestOption) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpkit.NewClient(httpkit.WithTimeout(2 * time.Minute))),
	}
	return &AnthropicClient{
		client: anthropic.NewClient(append(base, opts...)...),
		logger: logger,
	}
}

// Chat sends a Messages API request.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any, opts ...ChatOption) (*ChatResponse, error) {
	cfg := applyChatOptions(opts)
	msgs, system := convertToAnthropic(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages:  msgs,
	}
	if cfg.maxTokens > 0 {
		params.MaxTokens = int64(cfg.maxTokens)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if cfg.temperature != nil {
		params.Temperature = anthropic.Float(*cfg.temperature)
	}
	if len(tools) > 0 {
		params.Tools = convertToolsToAnthropic(tools)
	}

	c.logger.Debug("sending request",
		"model", model,
		"messages", len(msgs),
		"tools", len(params.Tools),
	)

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	result := convertFromAnthropic(resp)

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// Ping lists models to check reachability and credentials.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return fmt.Errorf("anthropic ping: %w", err)
	}
	return nil
}

// convertToAnthropic converts internal messages to Anthropic format.
// System messages are joined into the separate system prompt and
// consecutive tool results are merged into one user turn.
func convertToAnthropic(messages []Message) ([]anthropic.MessageParam, string) {
	var (
		systemParts []string
		result      []anthropic.MessageParam
		pending     []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(pending) > 0 {
			result = append(result, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))

		case RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for i, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("toolu_%s_%d", tc.Name, i)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, args, tc.Name))
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}

		default:
			flush()
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flush()
	return result, strings.Join(systemParts, "\n\n")
}

// convertToolsToAnthropic maps OpenAI function definitions onto
// Anthropic tool params.
func convertToolsToAnthropic(tools []map[string]any) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		fn, _ := t["function"].(map[string]any)
		if fn == nil {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := fn["description"].(string)
		params, _ := fn["parameters"].(map[string]any)

		schema := anthropic.ToolInputSchemaParam{Properties: params["properties"]}
		switch req := params["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}

		tool := &anthropic.ToolParam{Name: name, InputSchema: schema}
		if desc != "" {
			tool.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: tool})
	}
	return out
}

func convertFromAnthropic(resp *anthropic.Message) *ChatResponse {
	result := &ChatResponse{
		Model:        string(resp.Model),
		CreatedAt:    time.Now(),
		Message:      Message{Role: RoleAssistant},
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]any{"_raw": string(block.Input)}
				}
			}
			result.Message.ToolCalls = append(result.Message.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	result.Message.Content = text.String()

	switch resp.StopReason {
	case "tool_use":
		result.StopReason = "tool_calls"
	case "max_tokens":
		result.StopReason = "length"
	default:
		result.StopReason = "stop"
	}
	return result
}
