package signaling

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

const writeTimeout = 10 * time.Second

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newConnID returns a lexicographically sortable connection id, which keeps
// per-connection log lines groupable and ordered.
func newConnID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// wsConn wraps one websocket connection. Writes are serialized by a mutex;
// gorilla/websocket allows only one concurrent writer.
type wsConn struct {
	id   string
	sock *websocket.Conn

	mu sync.Mutex
}

func newWSConn(sock *websocket.Conn) *wsConn {
	return &wsConn{id: newConnID(), sock: sock}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.sock.WriteJSON(outbound{Event: event, Data: payload})
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.sock.Close()
}
