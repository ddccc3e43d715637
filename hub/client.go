package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yairfalse/vahti/telemetry"
)

const writeTimeout = 10 * time.Second

// Client adapts a gorilla websocket connection to the Subscriber
// interface. Writes are serialized; gorilla allows one writer at a
// time.
type Client struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *telemetry.Logger
}

// NewClient wraps an accepted websocket connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn, logger: telemetry.NewLogger("ws-client")}
}

// Send writes one text frame with a write deadline so a stalled peer
// cannot block the publisher.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Debug().Err(err).Msg("websocket send failed")
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}
