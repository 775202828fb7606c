package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a schema violation in an inbound payload. It is
// recoverable: the dispatcher answers with a protocol_error Result and keeps
// the connection open until the malformed-message threshold is hit.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding message: %s", e.Reason)
}

// incomingEnvelope is the raw shape of every client message.
type incomingEnvelope struct {
	Op       string          `json:"op"`
	Token    string          `json:"token"`
	Capacity int             `json:"capacity,omitempty"`
	Public   *bool           `json:"public,omitempty"`
	GameType string          `json:"game_type,omitempty"`
	RoomID   string          `json:"room_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Decode translates one raw payload into an Incoming variant.
//
// Postcondition: Returns a non-nil Incoming, or a *DecodeError describing the
// schema violation. Decode never panics on any input.
func Decode(data []byte) (Incoming, error) {
	var env incomingEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if env.Op == "" {
		return nil, &DecodeError{Reason: "missing op"}
	}

	switch Op(env.Op) {
	case OpCreateRoom:
		if env.Capacity < 0 {
			return nil, &DecodeError{Reason: fmt.Sprintf("capacity must be >= 0, got %d", env.Capacity)}
		}
		public := true
		if env.Public != nil {
			public = *env.Public
		}
		return CreateRoom{
			CorrelationToken: env.Token,
			Capacity:         env.Capacity,
			Public:           public,
			GameType:         env.GameType,
		}, nil

	case OpJoinRoom:
		return JoinRoom{CorrelationToken: env.Token, RoomID: env.RoomID}, nil

	case OpLeaveRoom:
		return LeaveRoom{CorrelationToken: env.Token}, nil

	case OpStartGame:
		return StartGame{CorrelationToken: env.Token}, nil

	case OpGame:
		if len(env.Payload) == 0 {
			return nil, &DecodeError{Reason: "game message missing payload"}
		}
		return GameAction{CorrelationToken: env.Token, Payload: env.Payload}, nil

	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown op %q", env.Op)}
	}
}

type resultEnvelope struct {
	Kind   string          `json:"kind"`
	Op     string          `json:"op"`
	Token  string          `json:"token"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type broadcastEnvelope struct {
	Kind   string          `json:"kind"`
	RoomID string          `json:"room_id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Encode translates one Outgoing variant into its wire payload.
//
// Postcondition: Returns a non-nil payload for every Outgoing variant.
func Encode(msg Outgoing) ([]byte, error) {
	switch m := msg.(type) {
	case Result:
		return json.Marshal(resultEnvelope{
			Kind:   "result",
			Op:     string(m.ResultOp),
			Token:  m.CorrelationToken,
			Status: string(m.Status),
			Data:   m.Data,
		})
	case Broadcast:
		return json.Marshal(broadcastEnvelope{
			Kind:   "broadcast",
			RoomID: m.RoomID,
			Event:  string(m.Event),
			Data:   m.Data,
		})
	default:
		return nil, fmt.Errorf("encoding message: unhandled variant %T", msg)
	}
}

// MarshalData is a convenience for building Result/Broadcast data payloads.
//
// Precondition: v must be JSON-marshallable.
func MarshalData(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
