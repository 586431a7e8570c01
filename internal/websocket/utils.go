package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait bounds client silence; clients ping well within it.
	readWait = 2 * time.Minute
)

// Conn serializes writes to a gorilla connection, which allows one
// concurrent writer only. Reads stay single-goroutine.
type Conn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewConn wraps an upgraded connection.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(code, errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func (c *Conn) ReadJSON(v interface{}) error {
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	return c.conn.ReadJSON(v)
}

// CloseWith sends a close frame and closes the connection, unblocking ReadJSON.
func (c *Conn) CloseWith(code int, text string) error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.conn.Close()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
