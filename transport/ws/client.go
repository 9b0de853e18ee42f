// Package ws is the reference transport adapter satisfying
// transport.Transport over a gorilla/websocket connection.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client wraps a single *websocket.Conn as a transport.Transport, driven
// by a readPump goroutine; Send writes to the connection directly under
// a mutex.
type Client struct {
	conn    *websocket.Conn
	inbound chan []byte

	mu     sync.Mutex
	closed bool
}

// Dial opens a websocket connection to addr (e.g. "ws://host:port/ws")
// and returns a Client ready to Send/Inbound.
func Dial(ctx context.Context, addr string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Minute}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dialing %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient adopts an already-established connection (e.g. from an
// http.Upgrade on the server side) as a transport.Transport.
func NewClient(conn *websocket.Conn) *Client {
	c := &Client{conn: conn, inbound: make(chan []byte, 256)}
	go c.readPump()
	return c
}

func (c *Client) readPump() {
	defer close(c.inbound)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.inbound <- data
	}
}

// Send implements transport.Transport.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("ws: send on closed transport")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Inbound implements transport.Transport.
func (c *Client) Inbound() <-chan []byte {
	return c.inbound
}

// Close implements transport.Transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
