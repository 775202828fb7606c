package scripting

import (
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/partyserver/internal/protocol"
	"github.com/cory-johannsen/partyserver/internal/room"
)

// Lua hook names a game script may define. Missing hooks are no-ops.
const (
	hookStart       = "on_start"
	hookMessage     = "on_message"
	hookMemberLeave = "on_member_leave"
)

// Handler is a room.GameHandler backed by one sandboxed Lua VM. The script
// defines global hook functions; each returns an array of effect tables:
//
//	{type = "reply", status = "ok", data = {...}}
//	{type = "broadcast", data = {...}, exclude = {"conn-id"}}
//	{type = "notify", to = "conn-id", data = {...}}
//	{type = "end", data = {...}}
//
// The owning room serializes all calls, so the VM needs no locking.
type Handler struct {
	state  *lua.LState
	limit  int
	script string
	logger *zap.Logger
}

// NewHandler loads the script into a fresh sandboxed VM.
//
// Precondition: scriptPath must be a readable Lua file; logger must be non-nil.
// Postcondition: Returns a ready Handler, or an error if the script fails to load.
func NewHandler(scriptPath string, instLimit int, logger *zap.Logger) (*Handler, error) {
	if instLimit <= 0 {
		instLimit = DefaultInstructionLimit
	}

	L := NewSandboxedState()
	resetBudget(L, instLimit)
	if err := L.DoFile(scriptPath); err != nil {
		L.Close()
		return nil, fmt.Errorf("loading game script %q: %w", scriptPath, err)
	}

	return &Handler{
		state:  L,
		limit:  instLimit,
		script: scriptPath,
		logger: logger,
	}, nil
}

// NewFactory returns a HandlerFactory that builds one Handler per room, each
// with its own VM and script state.
func NewFactory(scriptPath string, instLimit int, logger *zap.Logger) room.HandlerFactory {
	return func() (room.GameHandler, error) {
		return NewHandler(scriptPath, instLimit, logger)
	}
}

// OnGameStart runs the script's on_start hook with the seat order.
func (h *Handler) OnGameStart(members []string) []room.Effect {
	ret, err := h.call(hookStart, goToLua(h.state, members))
	if err != nil {
		h.logger.Warn("lua on_start failed",
			zap.String("script", h.script),
			zap.Error(err),
		)
		return nil
	}
	return h.effects(ret)
}

// OnMessage decodes the payload into a Lua table and runs on_message. A Lua
// runtime error is returned to the caller and surfaced to the sender.
func (h *Handler) OnMessage(connID string, payload json.RawMessage) ([]room.Effect, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decoding game payload: %w", err)
	}

	ret, err := h.call(hookMessage, lua.LString(connID), goToLua(h.state, decoded))
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", hookMessage, err)
	}
	return h.effects(ret), nil
}

// OnMemberLeave runs the script's on_member_leave hook.
func (h *Handler) OnMemberLeave(connID string) []room.Effect {
	ret, err := h.call(hookMemberLeave, lua.LString(connID))
	if err != nil {
		h.logger.Warn("lua on_member_leave failed",
			zap.String("script", h.script),
			zap.Error(err),
		)
		return nil
	}
	return h.effects(ret)
}

// Close releases the VM. The room calls this when it closes.
func (h *Handler) Close() error {
	h.state.Close()
	return nil
}

// call invokes the named global hook with a fresh opcode budget. A missing
// hook returns (LNil, nil).
func (h *Handler) call(hook string, args ...lua.LValue) (lua.LValue, error) {
	fn := h.state.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, nil
	}

	resetBudget(h.state, h.limit)
	if err := h.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		return lua.LNil, err
	}

	ret := h.state.Get(-1)
	h.state.Pop(1)
	return ret, nil
}

// effects translates a hook's return value into room effects. Anything that
// is not a well-formed effect table is skipped with a warning rather than
// failing the whole invocation.
func (h *Handler) effects(ret lua.LValue) []room.Effect {
	list, ok := ret.(*lua.LTable)
	if !ok {
		return nil
	}

	var out []room.Effect
	for i := 1; i <= list.Len(); i++ {
		entry, ok := list.RawGetInt(i).(*lua.LTable)
		if !ok {
			h.logger.Warn("lua effect is not a table",
				zap.String("script", h.script),
				zap.Int("index", i),
			)
			continue
		}

		data := protocol.MarshalData(luaToGo(entry.RawGetString("data")))
		switch kind := tableString(entry, "type", ""); kind {
		case "reply":
			out = append(out, room.Reply{
				Status: protocol.Status(tableString(entry, "status", string(protocol.StatusOK))),
				Data:   data,
			})
		case "broadcast":
			out = append(out, room.BroadcastAll{
				Data:    data,
				Exclude: tableStrings(entry, "exclude"),
			})
		case "notify":
			out = append(out, room.Notify{
				ConnID: tableString(entry, "to", ""),
				Data:   data,
			})
		case "end":
			out = append(out, room.EndGame{Data: data})
		default:
			h.logger.Warn("unknown lua effect type",
				zap.String("script", h.script),
				zap.String("type", kind),
			)
		}
	}
	return out
}
