package whatsapp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:3000", "ws://localhost:3000/ws?events=message&session=default"},
		{"https://waha.example", "wss://waha.example/ws?events=message&session=default"},
	}
	for _, tt := range tests {
		got, err := streamURL(tt.base, "default")
		if err != nil || got != tt.want {
			t.Errorf("streamURL(%q) = %q, %v; want %q", tt.base, got, err, tt.want)
		}
	}
}

func TestStream_DeliversMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotKey := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey <- r.Header.Get("X-Api-Key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"message","payload":{"from":"120363@g.us","body":"grupo"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"message","payload":{"id":"m1","from":"5511987654321@c.us","body":"oi","type":"chat"}}`))
		// Hold the connection until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	received := make(chan Inbound, 4)
	client := NewWAHAClient(srv.URL, "secret", "default", nil)
	stream, err := NewStream(client, nil, func(_ context.Context, in Inbound) { received <- in },
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	select {
	case in := <-received:
		if in.ChatID != "5511987654321@c.us" || in.Text != "oi" || in.MessageID != "m1" {
			t.Errorf("inbound = %+v", in)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}
	if key := <-gotKey; key != "secret" {
		t.Errorf("X-Api-Key = %q", key)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if len(received) != 0 {
		t.Errorf("group message delivered: %+v", <-received)
	}
}
