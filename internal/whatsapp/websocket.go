package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnect backoff bounds for the event stream.
const (
	streamMinBackoff = time.Second
	streamMaxBackoff = 30 * time.Second
)

// Stream receives WAHA message events over the WAHA websocket instead
// of webhooks.
type Stream struct {
	url     string
	apiKey  string
	aliases AliasStore
	handle  func(context.Context, Inbound)
	logger  *slog.Logger
	dialer  websocket.Dialer

	wg sync.WaitGroup
}

// NewStream creates a stream for the client's session. handle is called
// on its own goroutine for every answerable message.
func NewStream(c *WAHAClient, aliases AliasStore, handle func(context.Context, Inbound), logger *slog.Logger) (*Stream, error) {
	u, err := streamURL(c.BaseURL(), c.Session())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		url:     u,
		apiKey:  c.APIKey(),
		aliases: aliases,
		handle:  handle,
		logger:  logger,
		dialer: websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   64 * 1024,
		},
	}, nil
}

// streamURL converts the WAHA base URL into its websocket endpoint.
func streamURL(base, session string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse waha base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	q := url.Values{}
	q.Set("session", session)
	q.Set("events", "message")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and reads events until ctx is cancelled, reconnecting
// with exponential backoff. It waits for in-flight handlers before
// returning.
func (s *Stream) Run(ctx context.Context) {
	defer s.wg.Wait()

	backoff := streamMinBackoff
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			s.logger.Info("waha event stream stopped")
			return
		}
		if connected {
			backoff = streamMinBackoff
		}
		s.logger.Warn("waha event stream disconnected", "error", err, "retry_in", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > streamMaxBackoff {
			backoff = streamMaxBackoff
		}
	}
}

// session runs one connection. It reports whether the dial succeeded.
func (s *Stream) session(ctx context.Context) (bool, error) {
	header := http.Header{}
	if s.apiKey != "" {
		header.Set("X-Api-Key", s.apiKey)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return false, fmt.Errorf("dial waha websocket: %w", err)
	}
	defer conn.Close()
	s.logger.Info("waha event stream connected", "url", s.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, nil
			}
			return true, fmt.Errorf("read waha event: %w", err)
		}

		in, ok, err := ParseWAHAEvent(ctx, raw, s.aliases)
		if err != nil {
			s.logger.Warn("bad waha event", "error", err)
			continue
		}
		if !ok {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, in)
		}()
	}
}
