package tcp

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConn(t *testing.T, maxLineBytes int) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	conn := NewConn(server, 0, 0, maxLineBytes)
	t.Cleanup(func() {
		conn.Close()
		client.Close()
	})
	return conn, client
}

func TestConnReceiveStripsFraming(t *testing.T) {
	conn, client := pipeConn(t, 4096)

	go func() {
		_, _ = client.Write([]byte("{\"op\":\"leave_room\"}\r\n"))
	}()

	msg, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"op":"leave_room"}`, string(msg))
}

func TestConnReceiveLineTooLong(t *testing.T) {
	conn, client := pipeConn(t, 16)

	go func() {
		_, _ = client.Write([]byte(strings.Repeat("x", 64) + "\n"))
	}()

	_, err := conn.Receive()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestConnWriteAppendsNewline(t *testing.T) {
	conn, client := pipeConn(t, 4096)

	go func() {
		require.NoError(t, conn.Write([]byte(`{"kind":"result"}`)))
	}()

	line, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"kind\":\"result\"}\n", line)
}

func TestConnCloseIdempotent(t *testing.T) {
	conn, _ := pipeConn(t, 4096)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}
