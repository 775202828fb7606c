package ws

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/partyserver/internal/session"
)

// Channel adapts a websocket connection to the dispatcher's inbound Channel.
// Only text frames carry protocol messages; control frames are handled by
// the pumps.
type Channel struct {
	ws          *websocket.Conn
	pongTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewChannel wraps an upgraded websocket connection.
//
// Precondition: ws must be a live upgraded connection.
func NewChannel(ws *websocket.Conn, maxMessageBytes int64, pongTimeout time.Duration) *Channel {
	ws.SetReadLimit(maxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	return &Channel{ws: ws, pongTimeout: pongTimeout}
}

// Receive blocks for the next data frame. Normal peer closure is reported
// as io.EOF so the dispatcher treats it as a clean disconnect.
func (c *Channel) Receive() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Close releases the underlying websocket. Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// writePump drains the connection's outbound queue onto the socket and keeps
// the peer alive with pings. Runs until the connection closes or a write
// fails; it owns all writes to the socket.
func writePump(ws *websocket.Conn, conn *session.Conn, writeTimeout, pongTimeout time.Duration) {
	pingPeriod := pongTimeout * 9 / 10
	if pingPeriod <= 0 {
		pingPeriod = 30 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-conn.Done():
			// Flush the already-enqueued tail, then say goodbye.
			for {
				select {
				case payload := <-conn.Outbound():
					_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
					_ = ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
