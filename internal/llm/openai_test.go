package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClient_ChatWithToolCalls(t *testing.T) {
	var got openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"created": 1736950000,
			"model": "gpt-4o-mini",
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "cadastrar_transacao", "arguments": "{\"tipo\":\"expense\",\"valor\":30.5}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 18}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/", "sk-test", nil)
	msgs := []Message{
		{Role: RoleSystem, Content: "Você é o Leozera."},
		{Role: RoleUser, Content: "gastei 30,50 no almoço"},
	}
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "cadastrar_transacao"}}}

	resp, err := c.Chat(context.Background(), "gpt-4o-mini", msgs, tools, WithTemperature(0))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got.Temperature == nil || *got.Temperature != 0 {
		t.Errorf("temperature = %v, want explicit 0", got.Temperature)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
		t.Errorf("request messages = %+v", got.Messages)
	}
	if len(got.Tools) != 1 {
		t.Errorf("request tools = %d, want 1", len(got.Tools))
	}

	if resp.InputTokens != 120 || resp.OutputTokens != 18 {
		t.Errorf("usage = %d/%d, want 120/18", resp.InputTokens, resp.OutputTokens)
	}
	if resp.StopReason != "tool_calls" {
		t.Errorf("StopReason = %q, want tool_calls", resp.StopReason)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "cadastrar_transacao" {
		t.Errorf("tool call = %+v", tc)
	}
	if v, _ := tc.Arguments["valor"].(float64); v != 30.5 {
		t.Errorf("valor = %v, want 30.5", tc.Arguments["valor"])
	}
}

func TestOpenAIClient_OmitsTemperatureByDefault(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{"model":"m","choices":[{"message":{"role":"assistant","content":"oi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	resp, err := NewOpenAIClient(srv.URL, "", nil).Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "oi"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, ok := raw["temperature"]; ok {
		t.Error("temperature sent without WithTemperature")
	}
	if _, ok := raw["tools"]; ok {
		t.Error("empty tools should be omitted")
	}
	if resp.Message.Content != "oi" {
		t.Errorf("content = %q, want oi", resp.Message.Content)
	}
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAIClient(srv.URL, "k", nil).Chat(context.Background(), "m", nil, nil)
	if err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	if _, err := NewOpenAIClient(srv.URL, "k", nil).Chat(context.Background(), "m", nil, nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestConvertToOpenAI_EncodesToolCalls(t *testing.T) {
	msgs := []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_abc", Name: "gerar_relatorio", Arguments: map[string]any{"periodo": "semana"}}}},
		{Role: RoleTool, Name: "gerar_relatorio", ToolCallID: "call_abc", Content: "ok"},
	}
	out := convertToOpenAI(msgs)

	if len(out[0].ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(out[0].ToolCalls))
	}
	call := out[0].ToolCalls[0]
	if call.ID != "call_abc" || call.Type != "function" || call.Function.Arguments != `{"periodo":"semana"}` {
		t.Errorf("call = %+v", call)
	}
	if out[1].Name != "gerar_relatorio" || out[1].ToolCallID != "call_abc" {
		t.Errorf("tool message = %+v", out[1])
	}
}

func TestOpenAIResponse_MissingCallIDsPairWithResults(t *testing.T) {
	w := openaiResponse{}
	w.Choices = append(w.Choices, struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	}{})
	var first, second openaiToolCall
	first.Function.Name = "cadastrar_transacao"
	first.Function.Arguments = `{"valor":50}`
	second.Function.Name = "cadastrar_transacao"
	second.Function.Arguments = `{"valor":20}`
	w.Choices[0].Message.ToolCalls = []openaiToolCall{first, second}

	resp, err := w.toChatResponse()
	if err != nil {
		t.Fatal(err)
	}
	calls := resp.Message.ToolCalls
	if calls[0].ID == "" || calls[0].ID == calls[1].ID {
		t.Fatalf("assigned ids = %q, %q", calls[0].ID, calls[1].ID)
	}

	// Replay the turn the way the engine does: assistant message, then
	// one tool result per call carrying the call's ID.
	history := []Message{resp.Message}
	for _, c := range calls {
		history = append(history, Message{Role: RoleTool, Name: c.Name, ToolCallID: c.ID, Content: "ok"})
	}
	out := convertToOpenAI(history)
	for i, c := range out[0].ToolCalls {
		if c.ID != out[i+1].ToolCallID {
			t.Errorf("call %d id %q, tool result references %q", i, c.ID, out[i+1].ToolCallID)
		}
	}
}

func TestOpenAIResponse_MalformedArguments(t *testing.T) {
	w := openaiResponse{}
	w.Choices = append(w.Choices, struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	}{})
	var call openaiToolCall
	call.Function.Name = "x"
	call.Function.Arguments = "{not json"
	w.Choices[0].Message.ToolCalls = []openaiToolCall{call}

	resp, err := w.toChatResponse()
	if err != nil {
		t.Fatal(err)
	}
	if raw, _ := resp.Message.ToolCalls[0].Arguments["_raw"].(string); raw != "{not json" {
		t.Errorf("_raw = %q", raw)
	}
}

func TestOpenAIClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	if err := NewOpenAIClient(srv.URL, "good", nil).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := NewOpenAIClient(srv.URL, "bad", nil).Ping(context.Background()); err == nil {
		t.Error("Ping with bad key should fail")
	}
}
