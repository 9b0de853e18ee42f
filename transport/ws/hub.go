package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Hub maintains the set of websocket connections for a single document
// and broadcasts bytes to all of them. cmd/server keeps one Hub per
// document id, keyed by its route multiplexer.
type Hub struct {
	logger *logrus.Logger

	mu      sync.Mutex
	clients map[*Conn]struct{}

	// Forward, if set, is called with every message broadcast locally so
	// a multi-process deployment can also publish it to a fanout (e.g.
	// transport/fanout's Redis adapter).
	Forward func(data []byte)
}

// Conn is one websocket connection registered with a Hub. It is opaque
// to callers beyond passing it back to BroadcastExcept to suppress an
// echo back to its own origin.
type Conn struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns an empty Hub.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{logger: logger, clients: make(map[*Conn]struct{})}
}

// Join registers conn with the hub and starts its read loop and write
// pump. The returned leave function unregisters the connection; the read
// loop calls it itself once a read fails, so callers need not call it.
// onMessage is invoked with every message read from
// conn, tagged with the Conn it arrived on so the caller can
// BroadcastExcept it.
func (h *Hub) Join(socket *websocket.Conn, onMessage func(from *Conn, data []byte)) (leave func()) {
	client := &Conn{conn: socket, send: make(chan []byte, 256)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go h.writePump(client, done)

	var once sync.Once
	leave = func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
		})
	}

	go func() {
		defer leave()
		for {
			_, data, err := socket.ReadMessage()
			if err != nil {
				return
			}
			onMessage(client, data)
		}
	}()

	return leave
}

func (h *Hub) writePump(client *Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data, ok := <-client.send:
			if !ok {
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.WithError(err).Warn("ws: failed to write to client")
				return
			}
		}
	}
}

// Broadcast sends data to every locally connected client and, if set,
// forwards it to h.Forward (a fanout publish).
func (h *Hub) Broadcast(data []byte) {
	h.BroadcastExcept(data, nil)
}

// BroadcastExcept sends data to every locally connected client other
// than except (the connection the message originated from, to avoid
// echoing it straight back), and forwards it to h.Forward.
func (h *Hub) BroadcastExcept(data []byte, except *Conn) {
	h.broadcastLocked(data, except)
	if h.Forward != nil {
		h.Forward(data)
	}
}

// BroadcastLocal sends data to every locally connected client without
// invoking h.Forward. The fanout receive loop uses this for messages
// that just arrived from the fanout itself, so a multi-process
// deployment doesn't republish what it only just received.
func (h *Hub) BroadcastLocal(data []byte) {
	h.broadcastLocked(data, nil)
}

func (h *Hub) broadcastLocked(data []byte, except *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client == except {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Warn("ws: dropping slow client")
		}
	}
}

// Len reports the number of locally connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
