package tools

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestConversationAndToolCallIDs(t *testing.T) {
	ctx := context.Background()
	if ConversationIDFromContext(ctx) != "" || ToolCallIDFromContext(ctx) != "" {
		t.Fatal("bare context carries IDs")
	}

	ctx = WithConversationID(ctx, "5511987654321@c.us")
	call1 := WithToolCallID(ctx, "call_1")
	call2 := WithToolCallID(ctx, "call_2")

	if got := ConversationIDFromContext(call2); got != "5511987654321@c.us" {
		t.Errorf("thread = %q", got)
	}
	if ToolCallIDFromContext(call1) != "call_1" || ToolCallIDFromContext(call2) != "call_2" {
		t.Error("sibling tool calls share an ID")
	}
	if ToolCallIDFromContext(ctx) != "" {
		t.Error("tool call ID leaked into the turn context")
	}
}

func TestCallLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	callLogger(context.Background(), base).Info("plain")
	ctx := WithToolCallID(WithConversationID(context.Background(), "77@lid"), "call_9")
	callLogger(ctx, base).Info("tagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %q", lines)
	}
	if strings.Contains(lines[0], "conversation_id") || strings.Contains(lines[0], "tool_call_id") {
		t.Errorf("untagged line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "conversation_id=77@lid") || !strings.Contains(lines[1], "tool_call_id=call_9") {
		t.Errorf("tagged line = %q", lines[1])
	}
}
