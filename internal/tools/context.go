package tools

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	conversationIDKey contextKey = iota
	toolCallIDKey
)

// WithConversationID tags ctx with the WhatsApp thread a turn belongs to.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationIDFromContext returns the thread ID, or "" outside a turn.
func ConversationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey).(string)
	return id
}

// WithToolCallID records the provider tool call being executed.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, id)
}

// ToolCallIDFromContext returns the tool call ID, or "" if not set.
func ToolCallIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(toolCallIDKey).(string)
	return id
}

// callLogger tags logger with the thread and tool call carried by ctx.
func callLogger(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := ConversationIDFromContext(ctx); id != "" {
		logger = logger.With("conversation_id", id)
	}
	if id := ToolCallIDFromContext(ctx); id != "" {
		logger = logger.With("tool_call_id", id)
	}
	return logger
}
