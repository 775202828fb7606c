// Package testutil provides protocol test clients for integration testing
// against the TCP and websocket transports.
package testutil

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Message is a decoded server-to-client envelope, covering both results and
// broadcasts.
type Message struct {
	Kind   string          `json:"kind"`
	Op     string          `json:"op"`
	Token  string          `json:"token"`
	Status string          `json:"status"`
	RoomID string          `json:"room_id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// DataField unmarshals one field out of the message's data payload.
func (m Message) DataField(t *testing.T, field string) string {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal(m.Data, &data); err != nil {
		t.Fatalf("unmarshalling data %q: %v", m.Data, err)
	}
	s, _ := data[field].(string)
	return s
}

// LineClient is a newline-framed JSON test client for the TCP transport.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewLineClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return &LineClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// Send writes one request line. Fields beyond op and token are passed as the
// extra map and merged into the envelope.
func (c *LineClient) Send(op, token string, extra map[string]any) {
	c.t.Helper()

	envelope := map[string]any{"op": op, "token": token}
	for k, v := range extra {
		envelope[k] = v
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		c.t.Fatalf("marshalling %s request: %v", op, err)
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(c.conn, "%s\n", payload); err != nil {
		c.t.Fatalf("sending %s request: %v", op, err)
	}
}

// Next reads and decodes the next message, failing the test on timeout.
func (c *LineClient) Next(timeout time.Duration) Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.t.Fatalf("reading message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		c.t.Fatalf("decoding message %q: %v", line, err)
	}
	return msg
}

// Close closes the underlying connection.
func (c *LineClient) Close() {
	c.conn.Close()
}

// WSClient is a websocket test client.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials the websocket endpoint and returns a test client.
//
// Precondition: url must be a ws:// URL with a listening server.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return &WSClient{conn: conn, t: t}
}

// Send writes one request frame, mirroring LineClient.Send.
func (c *WSClient) Send(op, token string, extra map[string]any) {
	c.t.Helper()

	envelope := map[string]any{"op": op, "token": token}
	for k, v := range extra {
		envelope[k] = v
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		c.t.Fatalf("marshalling %s request: %v", op, err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.t.Fatalf("sending %s request: %v", op, err)
	}
}

// Next reads and decodes the next frame, failing the test on timeout.
func (c *WSClient) Next(timeout time.Duration) Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.t.Fatalf("decoding frame %q: %v", data, err)
	}
	return msg
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	c.conn.Close()
}
