package tcp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Conn wraps a TCP connection with newline framing: one JSON message per
// line in both directions. It implements the dispatcher's Channel.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxLineBytes int

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps a raw TCP connection with newline framing.
//
// Precondition: raw must be a valid, open network connection; maxLineBytes
// must be >= 1.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration, maxLineBytes int) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		maxLineBytes: maxLineBytes,
	}
}

// Receive reads the next newline-framed message, without the trailing
// newline. A line longer than the configured maximum is an error.
//
// Postcondition: Returns the next message, or an error (including io.EOF
// when the peer disconnected).
func (c *Conn) Receive() ([]byte, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > c.maxLineBytes {
			return nil, fmt.Errorf("line exceeds %d bytes", c.maxLineBytes)
		}
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
			// A final unterminated line is still a message.
			break
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// Write sends one message framed with a trailing newline. Serialized so the
// write loop and shutdown notices never interleave frames.
func (c *Conn) Write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.raw.Write(payload); err != nil {
		return err
	}
	_, err := c.raw.Write([]byte{'\n'})
	return err
}

// Close closes the underlying TCP connection. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
