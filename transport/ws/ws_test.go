package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// TestHub_BroadcastExceptSender verifies a message from one client
// reaches every other client but not its own sender, the echo
// suppression cmd/server relies on.
func TestHub_BroadcastExceptSender(t *testing.T) {
	hub := NewHub(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Join(conn, func(from *Conn, data []byte) {
			hub.BroadcastExcept(data, from)
		})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	a, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial a: %v", err)
	}
	defer a.Close()

	b, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial b: %v", err)
	}
	defer b.Close()

	// Give the hub a moment to register both connections.
	time.Sleep(50 * time.Millisecond)

	if err := a.Send(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-b.Inbound():
		if string(msg) != "hello" {
			t.Errorf("b received %q, want %q", msg, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("b did not receive broadcast message")
	}

	select {
	case msg := <-a.Inbound():
		t.Errorf("a should not receive its own broadcast, got %q", msg)
	case <-time.After(100 * time.Millisecond):
		// expected: no echo back to sender.
	}
}
