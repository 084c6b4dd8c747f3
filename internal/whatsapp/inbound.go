package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound is one text message received from a user.
type Inbound struct {
	ChatID    string // resolved "<number>@c.us"
	Text      string
	MessageID string // provider id, used for de-duplication
	Provider  string // "waha" or "twilio"
}

// WAHAEvent is the envelope WAHA posts to webhooks and pushes over its
// websocket.
type WAHAEvent struct {
	Event   string       `json:"event"`
	Session string       `json:"session"`
	Payload *WAHAMessage `json:"payload"`
	Data    *WAHAMessage `json:"data"` // some engines use "data"
}

// WAHAMessage is the message payload of a WAHA event.
type WAHAMessage struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	FromMe   bool   `json:"fromMe"`
	Body     string `json:"body"`
	Type     string `json:"type"`
	HasMedia bool   `json:"hasMedia"`
	Text     *struct {
		Body string `json:"body"`
	} `json:"text"`
	Conversation string `json:"conversation"`
	Inner        struct {
		Key struct {
			RemoteJidAlt string `json:"remoteJidAlt"`
		} `json:"key"`
	} `json:"_data"`
}

func (m *WAHAMessage) text() string {
	switch {
	case m.Body != "":
		return m.Body
	case m.Text != nil && m.Text.Body != "":
		return m.Text.Body
	default:
		return m.Conversation
	}
}

// AliasStore remembers @lid to chat id mappings.
type AliasStore interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key, value string) error
}

// ParseWAHAEvent decodes a WAHA event and extracts a text message to
// answer. It reports false for events that must be ignored: non-message
// events, messages sent by the session itself, groups, status
// broadcasts, media and empty bodies. An @lid sender with no known
// phone keeps its @lid chat id. aliases may be nil.
func ParseWAHAEvent(ctx context.Context, raw []byte, aliases AliasStore) (Inbound, bool, error) {
	var ev WAHAEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Inbound{}, false, fmt.Errorf("decode waha event: %w", err)
	}
	if ev.Event != "" && ev.Event != "message" {
		return Inbound{}, false, nil
	}
	msg := ev.Payload
	if msg == nil {
		msg = ev.Data
	}
	if msg == nil || msg.FromMe || msg.From == "" {
		return Inbound{}, false, nil
	}

	chatID, err := resolveChatID(ctx, msg, aliases)
	if err != nil {
		return Inbound{}, false, err
	}
	if chatID == "" || Ignored(chatID) {
		return Inbound{}, false, nil
	}

	body := strings.TrimSpace(msg.text())
	typ := msg.Type
	if typ == "" && body != "" {
		typ = "chat"
	}
	if msg.HasMedia || (typ != "chat" && typ != "text") || body == "" {
		return Inbound{}, false, nil
	}

	return Inbound{ChatID: chatID, Text: body, MessageID: msg.ID, Provider: "waha"}, true, nil
}

// resolveChatID maps an @lid sender to its phone chat id through
// remoteJidAlt, remembering the mapping so later events without the
// alternate jid still resolve. Unknown ids are returned unchanged.
func resolveChatID(ctx context.Context, msg *WAHAMessage, aliases AliasStore) (string, error) {
	if !IsLID(msg.From) {
		return msg.From, nil
	}
	if alt := msg.Inner.Key.RemoteJidAlt; alt != "" {
		chatID := ChatIDFromJID(alt)
		if aliases != nil {
			if err := aliases.Set(ctx, LIDNamespace, msg.From, chatID); err != nil {
				return "", fmt.Errorf("remember lid %s: %w", msg.From, err)
			}
		}
		return chatID, nil
	}
	if aliases == nil {
		return msg.From, nil
	}
	chatID, err := aliases.Get(ctx, LIDNamespace, msg.From)
	if err != nil {
		return "", fmt.Errorf("resolve lid %s: %w", msg.From, err)
	}
	if chatID == "" {
		return msg.From, nil
	}
	return chatID, nil
}
