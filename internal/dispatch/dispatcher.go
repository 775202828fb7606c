// Package dispatch runs the per-connection control loop: it reads decoded
// incoming messages, resolves them against the connection and room registry,
// and writes back correlated results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/cory-johannsen/partyserver/internal/config"
	"github.com/cory-johannsen/partyserver/internal/protocol"
	"github.com/cory-johannsen/partyserver/internal/room"
	"github.com/cory-johannsen/partyserver/internal/session"
)

// Channel is the inbound half of the transport boundary: a reliable ordered
// message source for one connection. Outbound traffic does not pass through
// it; every outgoing message is enqueued on the connection and drained by the
// transport's write loop, so results and broadcasts to one peer share a
// single ordered path.
type Channel interface {
	// Receive blocks until the next message or returns io.EOF when the
	// peer is gone.
	Receive() ([]byte, error)
	// Close releases the underlying transport. Idempotent.
	Close() error
}

// Dispatcher routes decoded messages for connections. One Dispatcher serves
// all connections; per-connection state lives in Run's frame.
type Dispatcher struct {
	registry *room.Registry
	sessions *session.Manager
	strategy room.MatchStrategy
	cfg      config.ProtocolConfig
	logger   *zap.Logger
}

// New creates a Dispatcher.
//
// Precondition: registry, sessions, and logger must be non-nil. strategy may
// be nil to use the default match strategy.
func New(registry *room.Registry, sessions *session.Manager, strategy room.MatchStrategy, cfg config.ProtocolConfig, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sessions: sessions,
		strategy: strategy,
		cfg:      cfg,
		logger:   logger,
	}
}

// NewConn builds a connection configured with this dispatcher's outbound
// queue policy. Transports call this at accept time.
func (d *Dispatcher) NewConn() *session.Conn {
	policy := session.DropNewest
	if d.cfg.OverflowPolicy == "disconnect" {
		policy = session.DisconnectOnOverflow
	}
	return session.NewConn(d.cfg.OutboundQueue, policy)
}

// Run drives the control loop for one connection until the channel closes,
// the malformed threshold is exceeded, or ctx is cancelled. Messages from
// the channel are processed strictly in order.
//
// Postcondition: The connection has left any room it was in, is removed from
// the session manager, and is Closed.
func (d *Dispatcher) Run(ctx context.Context, conn *session.Conn, ch Channel) error {
	if err := d.sessions.Add(conn); err != nil {
		conn.Close()
		return fmt.Errorf("registering connection: %w", err)
	}
	defer d.release(conn, ch)

	// Close the channel when the context goes or the connection is closed
	// from elsewhere (overflow policy, shutdown), unblocking Receive.
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-watchCtx.Done():
		case <-conn.Done():
		}
		_ = ch.Close()
	}()

	pending := newPendingSet()
	malformed := 0

	for {
		data, err := ch.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving message: %w", err)
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			malformed++
			d.logger.Warn("malformed message",
				zap.String("conn_id", conn.ID()),
				zap.Int("count", malformed),
				zap.Error(err),
			)
			d.sendResult(conn, protocol.Result{
				Status: protocol.StatusProtocolError,
				Data:   protocol.MarshalData(map[string]string{"reason": err.Error()}),
			})
			if malformed >= d.cfg.MaxMalformed {
				d.logger.Warn("malformed threshold exceeded, closing connection",
					zap.String("conn_id", conn.ID()),
				)
				return nil
			}
			continue
		}

		id := pending.add(string(msg.Op()), msg.Token())
		status, data := d.dispatch(conn, msg)

		req, ok := pending.resolve(id)
		if !ok {
			// Resolve of an entry this loop just added cannot miss.
			continue
		}
		d.sendResult(conn, protocol.Result{
			ResultOp:         protocol.Op(req.op),
			CorrelationToken: req.token,
			Status:           status,
			Data:             data,
		})
	}
}

// dispatch resolves one decoded message. Room-control operations run against
// the registry and the connection's room pointer; gameplay operations are
// forwarded to the room's game handler.
func (d *Dispatcher) dispatch(conn *session.Conn, msg protocol.Incoming) (protocol.Status, []byte) {
	switch m := msg.(type) {
	case protocol.CreateRoom:
		return d.handleCreate(conn, m)
	case protocol.JoinRoom:
		return d.handleJoin(conn, m)
	case protocol.LeaveRoom:
		return d.handleLeave(conn)
	case protocol.StartGame:
		return d.handleStart(conn)
	case protocol.GameAction:
		return d.handleGame(conn, m)
	default:
		// The Incoming union is closed; a new variant must be added here.
		return protocol.StatusProtocolError, nil
	}
}

func (d *Dispatcher) handleCreate(conn *session.Conn, m protocol.CreateRoom) (protocol.Status, []byte) {
	if _, inRoom := conn.RoomID(); inRoom {
		return protocol.StatusAlreadyMember, nil
	}

	r, status := d.registry.Create(room.Options{
		Capacity: m.Capacity,
		Public:   m.Public,
		GameType: m.GameType,
	})
	if status != protocol.StatusOK {
		return status, nil
	}

	if status := r.Join(conn); status != protocol.StatusOK {
		// The creator raced into another room; do not leak an empty room.
		d.registry.Destroy(r.ID())
		return status, nil
	}
	return protocol.StatusOK, protocol.MarshalData(map[string]string{"room_id": r.ID()})
}

func (d *Dispatcher) handleJoin(conn *session.Conn, m protocol.JoinRoom) (protocol.Status, []byte) {
	var r *room.Room
	var status protocol.Status

	if m.RoomID == "" {
		r, status = d.registry.Match(conn, d.strategy)
	} else {
		found, ok := d.registry.Find(m.RoomID)
		if !ok {
			return protocol.StatusNotFound, nil
		}
		r, status = found, found.Join(conn)
	}
	if status != protocol.StatusOK {
		return status, nil
	}
	return protocol.StatusOK, protocol.MarshalData(map[string]any{
		"room_id": r.ID(),
		"members": r.Members(),
	})
}

func (d *Dispatcher) handleLeave(conn *session.Conn) (protocol.Status, []byte) {
	roomID, ok := conn.BeginLeave()
	if !ok {
		return protocol.StatusNotInRoom, nil
	}

	r, found := d.registry.Find(roomID)
	if !found {
		// The room was reaped while this connection still pointed at it.
		conn.ClearRoom(roomID)
		return protocol.StatusOK, nil
	}
	return r.Leave(conn.ID()), nil
}

func (d *Dispatcher) handleStart(conn *session.Conn) (protocol.Status, []byte) {
	roomID, ok := conn.RoomID()
	if !ok {
		return protocol.StatusNotInRoom, nil
	}
	r, found := d.registry.Find(roomID)
	if !found {
		conn.ClearRoom(roomID)
		return protocol.StatusNotFound, nil
	}
	return r.Start(conn.ID()), nil
}

func (d *Dispatcher) handleGame(conn *session.Conn, m protocol.GameAction) (protocol.Status, []byte) {
	roomID, ok := conn.RoomID()
	if !ok {
		return protocol.StatusNotInRoom, nil
	}
	r, found := d.registry.Find(roomID)
	if !found {
		conn.ClearRoom(roomID)
		return protocol.StatusNotFound, nil
	}
	status, data := r.Forward(conn.ID(), m.Payload)
	return status, data
}

// release tears the connection down: best-effort leave, deregistration, and
// close. Safe to reach from any exit path of the read loop, including the
// paths that closed the connection first (overflow policy, write failures),
// so the room pointer is read directly rather than through BeginLeave.
func (d *Dispatcher) release(conn *session.Conn, ch Channel) {
	if roomID, ok := conn.RoomID(); ok {
		if r, found := d.registry.Find(roomID); found {
			r.Leave(conn.ID())
		} else {
			conn.ClearRoom(roomID)
		}
	}
	d.sessions.Remove(conn.ID())
	conn.Close()
	_ = ch.Close()

	d.logger.Debug("connection released",
		zap.String("conn_id", conn.ID()),
		zap.Int("connections", d.sessions.Count()),
	)
}

func (d *Dispatcher) sendResult(conn *session.Conn, result protocol.Result) {
	payload, err := protocol.Encode(result)
	if err != nil {
		d.logger.Error("encoding result",
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
		return
	}
	if err := conn.Send(payload); err != nil {
		d.logger.Warn("result delivery failed",
			zap.String("conn_id", conn.ID()),
			zap.String("op", string(result.ResultOp)),
			zap.Error(err),
		)
	}
}
