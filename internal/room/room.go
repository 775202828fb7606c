// Package room implements the room state machine and the registry that owns
// the room index: bounded member sets, broadcast fan-out, game handler
// invocation, and deterministic room teardown.
package room

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/partyserver/internal/protocol"
	"github.com/cory-johannsen/partyserver/internal/session"
)

// State is the lifecycle state of a room.
type State int

const (
	// Open accepts members.
	Open State = iota
	// InProgress is running its game; no further joins.
	InProgress
	// Closed is terminal: zero members, unreachable from the registry.
	Closed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case InProgress:
		return "in_progress"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configure a new room.
type Options struct {
	// Capacity is the member limit. Must be >= 1.
	Capacity int
	// Public rooms are visible to matchmaking and startable by any member.
	Public bool
	// MinMembersToStart gates StartGame.
	MinMembersToStart int
	// GameType names the handler the room runs.
	GameType string
}

// Room is a bounded group of connections sharing one game session.
//
// Each room serializes its own operations behind one mutex; operations on
// different rooms never contend. Lock order is room then connection: no
// session.Conn method called under r.mu takes any lock but the conn's own.
type Room struct {
	id      string
	opts    Options
	handler GameHandler
	logger  *zap.Logger

	// onClosed tells the registry to drop the index entry. Called at most
	// once, outside r.mu.
	onClosed func(id string)

	mu       sync.Mutex
	state    State
	members  []*session.Conn // join order = seat order
	hostID   string
	lastJoin time.Time
}

// New creates an Open room. Rooms are built by the Registry; tests may build
// them directly.
//
// Precondition: opts.Capacity >= 1; handler and logger must be non-nil.
func New(id string, opts Options, handler GameHandler, logger *zap.Logger, onClosed func(id string)) *Room {
	if onClosed == nil {
		onClosed = func(string) {}
	}
	return &Room{
		id:       id,
		opts:     opts,
		handler:  handler,
		logger:   logger,
		onClosed: onClosed,
		state:    Open,
		lastJoin: time.Now(),
	}
}

// ID returns the room's join code.
func (r *Room) ID() string { return r.id }

// State returns the current lifecycle state.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Public reports whether the room participates in matchmaking.
func (r *Room) Public() bool { return r.opts.Public }

// GameType returns the name of the handler the room runs.
func (r *Room) GameType() string { return r.opts.GameType }

// Host returns the connection id of the room's host (first member).
func (r *Room) Host() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// Members returns member connection ids in join order.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberIDsLocked()
}

// MemberCount returns the current member count.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Joinable reports whether a join would currently succeed. Used by match
// strategies; the answer may be stale by the time Join runs.
func (r *Room) Joinable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == Open && len(r.members) < r.opts.Capacity
}

// Join adds the connection as a member and announces it to the others.
//
// Postcondition: On StatusOK the connection's room pointer names this room
// and the member set contains it; on any other status neither is changed.
func (r *Room) Join(conn *session.Conn) protocol.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Closed:
		return protocol.StatusRoomClosed
	case InProgress:
		return protocol.StatusGameInProgress
	}
	if r.indexOfLocked(conn.ID()) >= 0 {
		return protocol.StatusAlreadyMember
	}
	if len(r.members) >= r.opts.Capacity {
		return protocol.StatusRoomFull
	}
	if err := conn.AssignRoom(r.id); err != nil {
		// In another room, mid-leave, or closed.
		if err == session.ErrClosed {
			return protocol.StatusNotFound
		}
		return protocol.StatusAlreadyMember
	}

	r.members = append(r.members, conn)
	if len(r.members) == 1 {
		r.hostID = conn.ID()
	}
	r.lastJoin = time.Now()

	r.broadcastLocked(protocol.EventMemberJoined, protocol.MarshalData(map[string]any{
		"member": conn.ID(),
		"count":  len(r.members),
	}), map[string]bool{conn.ID(): true})

	r.logger.Debug("member joined",
		zap.String("room_id", r.id),
		zap.String("conn_id", conn.ID()),
		zap.Int("members", len(r.members)),
	)
	return protocol.StatusOK
}

// Leave removes the member and announces the departure. Removing a
// connection that is not a member reports StatusNotMember without touching
// room state, so duplicate disconnect signals are harmless.
//
// Postcondition: The connection's room pointer is cleared. A room whose last
// member leaves transitions to Closed.
func (r *Room) Leave(connID string) protocol.Status {
	r.mu.Lock()

	if r.state == Closed {
		r.mu.Unlock()
		return protocol.StatusNotMember
	}
	idx := r.indexOfLocked(connID)
	if idx < 0 {
		r.mu.Unlock()
		return protocol.StatusNotMember
	}

	conn := r.members[idx]
	r.members = append(r.members[:idx], r.members[idx+1:]...)
	conn.ClearRoom(r.id)

	if r.hostID == connID && len(r.members) > 0 {
		r.hostID = r.members[0].ID()
	}

	r.broadcastLocked(protocol.EventMemberLeft, protocol.MarshalData(map[string]any{
		"member": connID,
		"count":  len(r.members),
	}), nil)

	if r.state == InProgress && len(r.members) > 0 {
		r.applyEffectsLocked("", r.handler.OnMemberLeave(connID))
	}

	r.logger.Debug("member left",
		zap.String("room_id", r.id),
		zap.String("conn_id", connID),
		zap.Int("members", len(r.members)),
	)

	// A leave-triggered EndGame effect may already have closed the room.
	if len(r.members) == 0 && r.state != Closed {
		r.closeLocked("empty")
		r.mu.Unlock()
		r.onClosed(r.id)
		return protocol.StatusOK
	}
	r.mu.Unlock()
	return protocol.StatusOK
}

// Start transitions Open to InProgress and runs the handler's game-start
// hook. Public rooms may be started by any member; private rooms only by the
// host.
func (r *Room) Start(connID string) protocol.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Closed:
		return protocol.StatusRoomClosed
	case InProgress:
		return protocol.StatusGameInProgress
	}
	if r.indexOfLocked(connID) < 0 {
		return protocol.StatusNotMember
	}
	if !r.opts.Public && connID != r.hostID {
		return protocol.StatusNotHost
	}
	if len(r.members) < r.opts.MinMembersToStart {
		return protocol.StatusNotEnoughMembers
	}

	r.state = InProgress
	seats := r.memberIDsLocked()

	r.broadcastLocked(protocol.EventGameStarted, protocol.MarshalData(map[string]any{
		"seats": seats,
	}), nil)
	r.applyEffectsLocked("", r.handler.OnGameStart(seats))

	r.logger.Info("game started",
		zap.String("room_id", r.id),
		zap.String("game_type", r.opts.GameType),
		zap.Int("members", len(seats)),
	)
	return protocol.StatusOK
}

// Forward delegates a gameplay payload to the game handler and returns the
// status and data for the Result answering it. Only valid while InProgress.
func (r *Room) Forward(connID string, payload json.RawMessage) (protocol.Status, json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Closed:
		return protocol.StatusRoomClosed, nil
	case Open:
		return protocol.StatusGameNotStarted, nil
	}
	if r.indexOfLocked(connID) < 0 {
		return protocol.StatusNotMember, nil
	}

	effects, err := r.handler.OnMessage(connID, payload)
	if err != nil {
		return protocol.StatusHandlerError, protocol.MarshalData(map[string]string{
			"error": err.Error(),
		})
	}
	return r.applyEffectsLocked(connID, effects)
}

// Broadcast fans a message out to every member not in exclude. Delivery is
// best-effort per member; one slow or dead member never blocks the others.
//
// Postcondition: Returns the number of members the message was enqueued for.
func (r *Room) Broadcast(event protocol.Event, data json.RawMessage, exclude map[string]bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(event, data, exclude)
}

// CloseIfIdle closes an Open room that has seen no join since before the
// cutoff. Returns true if the room closed.
func (r *Room) CloseIfIdle(cutoff time.Time) bool {
	r.mu.Lock()
	if r.state != Open || r.lastJoin.After(cutoff) {
		r.mu.Unlock()
		return false
	}
	r.closeLocked("idle")
	r.mu.Unlock()
	r.onClosed(r.id)
	return true
}

// Close tears the room down: members are notified, their room pointers are
// cleared, and the registry entry is dropped. Idempotent.
func (r *Room) Close(reason string) {
	r.mu.Lock()
	if r.state == Closed {
		r.mu.Unlock()
		return
	}
	r.closeLocked(reason)
	r.mu.Unlock()
	r.onClosed(r.id)
}

// closeLocked moves the room to Closed and detaches every member.
// Callers must invoke onClosed after releasing r.mu. Closing twice is a
// no-op so the handler's Close runs exactly once.
func (r *Room) closeLocked(reason string) {
	if r.state == Closed {
		return
	}
	r.broadcastLocked(protocol.EventRoomClosed, protocol.MarshalData(map[string]string{
		"reason": reason,
	}), nil)
	for _, conn := range r.members {
		conn.ClearRoom(r.id)
	}
	r.members = nil
	r.state = Closed

	// Handlers holding external resources (Lua VMs) release them here.
	if closer, ok := r.handler.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			r.logger.Warn("closing game handler",
				zap.String("room_id", r.id),
				zap.Error(err),
			)
		}
	}

	r.logger.Info("room closed",
		zap.String("room_id", r.id),
		zap.String("reason", reason),
	)
}

func (r *Room) broadcastLocked(event protocol.Event, data json.RawMessage, exclude map[string]bool) int {
	payload, err := protocol.Encode(protocol.Broadcast{
		RoomID: r.id,
		Event:  event,
		Data:   data,
	})
	if err != nil {
		r.logger.Error("encoding broadcast",
			zap.String("room_id", r.id),
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return 0
	}

	delivered := 0
	for _, conn := range r.members {
		if exclude[conn.ID()] {
			continue
		}
		if err := conn.Send(payload); err != nil {
			r.logger.Warn("broadcast delivery failed",
				zap.String("room_id", r.id),
				zap.String("conn_id", conn.ID()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// applyEffectsLocked applies handler effects and returns the Reply status and
// data, defaulting to ok. originID is empty when no request is being
// answered (start and leave hooks); Reply effects are ignored then.
func (r *Room) applyEffectsLocked(originID string, effects []Effect) (protocol.Status, json.RawMessage) {
	status := protocol.StatusOK
	var data json.RawMessage
	replied := false
	ended := false
	var endData json.RawMessage

	for _, effect := range effects {
		switch e := effect.(type) {
		case Reply:
			if originID == "" || replied {
				continue
			}
			status, data = e.Status, e.Data
			replied = true
		case BroadcastAll:
			exclude := make(map[string]bool, len(e.Exclude))
			for _, id := range e.Exclude {
				exclude[id] = true
			}
			r.broadcastLocked(protocol.EventGame, e.Data, exclude)
		case Notify:
			if idx := r.indexOfLocked(e.ConnID); idx >= 0 {
				payload, err := protocol.Encode(protocol.Broadcast{
					RoomID: r.id,
					Event:  protocol.EventGame,
					Data:   e.Data,
				})
				if err == nil {
					_ = r.members[idx].Send(payload)
				}
			}
		case EndGame:
			ended = true
			endData = e.Data
		}
	}

	if ended && r.state == InProgress {
		r.broadcastLocked(protocol.EventGameEnded, endData, nil)
		r.closeLocked("game_ended")
		// onClosed must run outside the lock; hand it to a goroutine since
		// this path is reached mid-operation.
		go r.onClosed(r.id)
	}
	return status, data
}

func (r *Room) memberIDsLocked() []string {
	ids := make([]string, len(r.members))
	for i, conn := range r.members {
		ids[i] = conn.ID()
	}
	return ids
}

func (r *Room) indexOfLocked(connID string) int {
	for i, conn := range r.members {
		if conn.ID() == connID {
			return i
		}
	}
	return -1
}
