package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/config"
)

// Client is one websocket connection with a bounded outbound buffer. The
// broker pushes into the buffer without blocking; the write pump drains it.
type Client struct {
	id       string
	conn     *websocket.Conn
	outbound chan []byte
	mu       sync.Mutex
	closed   bool
}

// NewClient wraps an upgraded websocket connection.
//
// Precondition: id must be non-empty; conn must be open.
// Postcondition: Returns a Client with an open outbound buffer.
func NewClient(id string, conn *websocket.Conn, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Client{
		id:       id,
		conn:     conn,
		outbound: make(chan []byte, bufferSize),
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Push enqueues a frame for delivery.
//
// Postcondition: The frame is buffered, or an error if the client is closed
// or its buffer is full. Push never blocks.
func (c *Client) Push(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client %s is closed", c.id)
	}
	select {
	case c.outbound <- frame:
		return nil
	default:
		return fmt.Errorf("client %s send buffer full", c.id)
	}
}

// Close marks the client closed and closes the outbound buffer, which stops
// the write pump. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.outbound)
	}
}

// writePump drains the outbound buffer to the socket and sends keepalive
// pings. It exits when the buffer is closed or a write fails.
func (c *Client) writePump(cfg config.GatewayConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.outbound:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("write failed",
					zap.String("conn", c.id),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
