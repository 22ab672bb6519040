package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is one live connection handle. Events reach the socket through send,
// drained in order by writePump; enqueueing never blocks the caller.
type Client struct {
	Info ConnInfo

	conn    *websocket.Conn
	send    chan []byte
	rooms   map[int64]struct{}
	limiter *rate.Limiter
}

// NewClient creates a client with a send queue of the given capacity.
// conn may be nil for clients that are only read through Outbound.
func NewClient(conn *websocket.Conn, info ConnInfo, buffer int) *Client {
	if info.ConnID == "" {
		info.ConnID = newConnID()
	}
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = time.Now()
	}
	return &Client{
		Info:    info,
		conn:    conn,
		send:    make(chan []byte, buffer),
		rooms:   make(map[int64]struct{}),
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.Info.ConnID }

// UserID returns the authenticated user of the connection.
func (c *Client) UserID() int64 { return c.Info.UserID }

// Outbound exposes the queued frames. It is closed when the hub unregisters the client.
func (c *Client) Outbound() <-chan []byte { return c.send }

// writePump drains the send queue to the socket and keeps it alive with pings.
// It returns when the queue is closed or a write fails.
func (c *Client) writePump(writeTimeout, pingInterval time.Duration, onError func(error)) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				onError(err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				onError(err)
				return
			}
		}
	}
}
