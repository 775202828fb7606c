// Package protocol defines the tagged message sets exchanged with clients and
// the stateless JSON codec between them and the wire.
//
// The two unions are closed: every Incoming variant is produced only by Decode,
// and every Outgoing variant is accepted by Encode. Dispatch code type-switches
// over Incoming so that adding a variant is a compile-visible change.
package protocol

import "encoding/json"

// Op identifies the operation a request or result belongs to.
type Op string

const (
	OpCreateRoom Op = "create_room"
	OpJoinRoom   Op = "join_room"
	OpLeaveRoom  Op = "leave_room"
	OpStartGame  Op = "start_game"
	// OpGame carries a game-specific payload that the core forwards to the
	// room's game handler without inspecting it.
	OpGame Op = "game"
)

// Status is the outcome of a request, surfaced to the client in a Result.
// Expected control-flow outcomes are statuses, never connection-fatal errors.
type Status string

const (
	StatusOK               Status = "ok"
	StatusRoomFull         Status = "room_full"
	StatusRoomClosed       Status = "room_closed"
	StatusNotMember        Status = "not_member"
	StatusAlreadyMember    Status = "already_member"
	StatusNotInRoom        Status = "not_in_room"
	StatusNotFound         Status = "not_found"
	StatusCapacityExceeded Status = "capacity_exceeded"
	StatusGameInProgress   Status = "game_in_progress"
	StatusGameNotStarted   Status = "game_not_started"
	StatusNotEnoughMembers Status = "not_enough_members"
	StatusNotHost          Status = "not_host"
	StatusProtocolError    Status = "protocol_error"
	StatusHandlerError     Status = "handler_error"
)

// Incoming is the closed set of client-to-server messages.
type Incoming interface {
	// Op returns the operation tag of the message.
	Op() Op
	// Token returns the client-chosen correlation token, echoed back
	// verbatim in the matching Result.
	Token() string

	incoming()
}

// CreateRoom asks for a new room owned by the requesting connection.
type CreateRoom struct {
	CorrelationToken string
	// Capacity is the requested member limit. 0 means the server default.
	Capacity int
	// Public rooms are visible to matchmaking and can be started by any member.
	Public bool
	// GameType selects the game handler for the room. Empty means the
	// server's default game type.
	GameType string
}

// JoinRoom asks to join the identified room, or any open public room when
// RoomID is empty (matchmaking).
type JoinRoom struct {
	CorrelationToken string
	RoomID           string
}

// LeaveRoom asks to leave the connection's current room.
type LeaveRoom struct {
	CorrelationToken string
}

// StartGame asks to start the game in the connection's current room.
type StartGame struct {
	CorrelationToken string
}

// GameAction carries an opaque gameplay payload for the room's game handler.
type GameAction struct {
	CorrelationToken string
	Payload          json.RawMessage
}

func (m CreateRoom) Op() Op { return OpCreateRoom }
func (m JoinRoom) Op() Op   { return OpJoinRoom }
func (m LeaveRoom) Op() Op  { return OpLeaveRoom }
func (m StartGame) Op() Op  { return OpStartGame }
func (m GameAction) Op() Op { return OpGame }

func (m CreateRoom) Token() string { return m.CorrelationToken }
func (m JoinRoom) Token() string   { return m.CorrelationToken }
func (m LeaveRoom) Token() string  { return m.CorrelationToken }
func (m StartGame) Token() string  { return m.CorrelationToken }
func (m GameAction) Token() string { return m.CorrelationToken }

func (CreateRoom) incoming() {}
func (JoinRoom) incoming()   {}
func (LeaveRoom) incoming()  {}
func (StartGame) incoming()  {}
func (GameAction) incoming() {}

// Event names the kind of state pushed in a Broadcast.
type Event string

const (
	EventMemberJoined Event = "member_joined"
	EventMemberLeft   Event = "member_left"
	EventGameStarted  Event = "game_started"
	EventGameEnded    Event = "game_ended"
	EventRoomClosed   Event = "room_closed"
	// EventGame carries handler-defined broadcast state.
	EventGame Event = "game"
)

// Outgoing is the closed set of server-to-client messages.
type Outgoing interface{ outgoing() }

// Result answers exactly one request, carrying its operation tag and
// correlation token.
type Result struct {
	ResultOp         Op
	CorrelationToken string
	Status           Status
	Data             json.RawMessage
}

// Broadcast is room state fanned out to members without a matching request.
type Broadcast struct {
	RoomID string
	Event  Event
	Data   json.RawMessage
}

func (Result) outgoing()    {}
func (Broadcast) outgoing() {}
