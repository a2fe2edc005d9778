package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"progress-stream-service/internal/protocol"
)

// conn adapts a gorilla connection to the coordinator's push interface.
// gorilla allows a single concurrent writer, so Send serializes under a
// mutex; the coordinator may push from producer goroutines while the read
// loop replies to pings.
type conn struct {
	mu   sync.Mutex
	ws   *websocket.Conn
	once sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws}
}

func (c *conn) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) Close() error {
	c.once.Do(func() {
		_ = c.ws.Close()
	})
	return nil
}
