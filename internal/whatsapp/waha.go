package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/camppoia/leozera/internal/httpkit"
)

// WAHAClient talks to the WAHA HTTP API for one session.
type WAHAClient struct {
	baseURL string
	apiKey  string
	session string
	http    *http.Client
	logger  *slog.Logger
}

// NewWAHAClient creates a client. An empty session means "default".
func NewWAHAClient(baseURL, apiKey, session string, logger *slog.Logger) *WAHAClient {
	if session == "" {
		session = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WAHAClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		session: session,
		http: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Session returns the WAHA session name.
func (c *WAHAClient) Session() string { return c.session }

// BaseURL returns the API root without a trailing slash.
func (c *WAHAClient) BaseURL() string { return c.baseURL }

// APIKey returns the key sent as X-Api-Key.
func (c *WAHAClient) APIKey() string { return c.apiKey }

type chatRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text,omitempty"`
	Session string `json:"session"`
}

// SendText sends text to chatID.
func (c *WAHAClient) SendText(ctx context.Context, chatID, text string) error {
	return c.post(ctx, "/api/sendText", chatRequest{ChatID: chatID, Text: text, Session: c.session})
}

// StartTyping shows the typing indicator in chatID.
func (c *WAHAClient) StartTyping(ctx context.Context, chatID string) error {
	return c.post(ctx, "/api/startTyping", chatRequest{ChatID: chatID, Session: c.session})
}

// StopTyping clears the typing indicator in chatID.
func (c *WAHAClient) StopTyping(ctx context.Context, chatID string) error {
	return c.post(ctx, "/api/stopTyping", chatRequest{ChatID: chatID, Session: c.session})
}

// Send delivers text to a national phone number.
func (c *WAHAClient) Send(ctx context.Context, phone, text string) error {
	return c.SendText(ctx, ChatID(phone), text)
}

func (c *WAHAClient) post(ctx context.Context, path string, body chatRequest) error {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["X-Api-Key"] = c.apiKey
	}
	if err := httpkit.PostJSON(ctx, c.http, c.baseURL+path, headers, body, nil); err != nil {
		return fmt.Errorf("waha %s: %w", path, err)
	}
	return nil
}

// sessionInfo is the subset of GET /api/sessions/{session} we read.
type sessionInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Ping checks that the WAHA session exists and is WORKING.
func (c *WAHAClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sessions/"+c.session, nil)
	if err != nil {
		return fmt.Errorf("waha ping: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("waha ping: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("waha ping: %w", &httpkit.StatusError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)})
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var info sessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("waha ping: decode session: %w", err)
	}
	if info.Status != "WORKING" {
		return fmt.Errorf("waha session %s is %s", c.session, info.Status)
	}
	return nil
}
