// Package session provides the server-side connection entity: identity,
// lifecycle state, the bounded outbound queue, and the current-room pointer.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle state of a connection.
type State int

const (
	// Connected means the connection is live and may join rooms.
	Connected State = iota
	// LeavingRoom means a leave is in flight; joins are rejected until it
	// completes.
	LeavingRoom
	// Closed is terminal. No sends are delivered and no rooms may be joined.
	Closed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case LeavingRoom:
		return "leaving_room"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// OverflowPolicy selects the behavior when the outbound queue is full.
type OverflowPolicy int

const (
	// DropNewest discards the message that would overflow the queue.
	DropNewest OverflowPolicy = iota
	// DisconnectOnOverflow closes the connection. A peer that cannot keep up
	// with its own queue is treated as gone.
	DisconnectOnOverflow
)

var (
	// ErrClosed is returned by Send once the connection is closed.
	ErrClosed = errors.New("connection closed")
	// ErrQueueFull is returned by Send when the outbound queue overflowed.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrInRoom is returned by AssignRoom when the connection already has a room.
	ErrInRoom = errors.New("connection already in a room")
	// ErrLeaving is returned by AssignRoom while a leave is in flight.
	ErrLeaving = errors.New("connection is leaving a room")
)

// Conn is one client's connection as the core sees it. The transport adapter
// owns the socket; Conn owns the outbound queue the transport drains and the
// room pointer the dispatcher resolves against.
//
// All methods are safe for concurrent use. Room fan-out goroutines and the
// connection's own dispatcher call Send concurrently.
type Conn struct {
	id string

	mu       sync.Mutex
	state    State
	roomID   string
	dropped  int
	outbound chan []byte
	policy   OverflowPolicy
	closed   chan struct{}
}

// NewConn creates a connection with a fresh process-unique id and a bounded
// outbound queue.
//
// Precondition: queueSize must be >= 1.
func NewConn(queueSize int, policy OverflowPolicy) *Conn {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Conn{
		id:       uuid.NewString(),
		state:    Connected,
		outbound: make(chan []byte, queueSize),
		policy:   policy,
		closed:   make(chan struct{}),
	}
}

// ID returns the process-unique connection id.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send enqueues one encoded message for delivery. It never blocks: a full
// queue is resolved by the configured overflow policy.
//
// Postcondition: Returns nil when enqueued, ErrClosed when the connection is
// closed, or ErrQueueFull when the queue overflowed (under DisconnectOnOverflow
// the connection is also closed).
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrClosed
	}

	select {
	case c.outbound <- payload:
		c.mu.Unlock()
		return nil
	default:
	}

	c.dropped++
	policy := c.policy
	c.mu.Unlock()

	if policy == DisconnectOnOverflow {
		c.Close()
	}
	return ErrQueueFull
}

// Outbound returns the queue the transport write loop drains.
func (c *Conn) Outbound() <-chan []byte { return c.outbound }

// Done returns a channel closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Dropped returns the number of messages discarded by the overflow policy.
func (c *Conn) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// RoomID returns the current room id and whether one is assigned.
func (c *Conn) RoomID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.roomID != ""
}

// AssignRoom sets the current room. A connection is in at most one room.
//
// Postcondition: Returns nil and the room pointer is set, or ErrInRoom,
// ErrLeaving, or ErrClosed and the pointer is unchanged.
func (c *Conn) AssignRoom(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == Closed:
		return ErrClosed
	case c.state == LeavingRoom:
		return ErrLeaving
	case c.roomID != "":
		return ErrInRoom
	}
	c.roomID = roomID
	return nil
}

// BeginLeave marks a leave as in flight so concurrent joins are rejected
// until ClearRoom runs.
//
// Postcondition: Returns the room being left, or false if no room is assigned.
func (c *Conn) BeginLeave() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == "" || c.state != Connected {
		return "", false
	}
	c.state = LeavingRoom
	return c.roomID, true
}

// ClearRoom removes the room pointer if it still names roomID. Stale clears
// from concurrent double-teardown are no-ops.
func (c *Conn) ClearRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == roomID {
		c.roomID = ""
	}
	if c.state == LeavingRoom {
		c.state = Connected
	}
}

// Close marks the connection Closed and wakes the transport write loop.
// Idempotent; safe to call from any goroutine at any point in the read loop.
//
// Postcondition: State is Closed, Done() is closed, Send returns ErrClosed.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return
	}
	c.state = Closed
	close(c.closed)
}
