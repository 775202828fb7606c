package room

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cory-johannsen/partyserver/internal/protocol"
)

// GameHandler is the pluggable per-room game logic. The core invokes it and
// applies the effects it returns; it never inspects handler state. One
// instance serves one room and dies with it. The owning room serializes all
// calls, so implementations need no locking of their own.
type GameHandler interface {
	// OnGameStart is called once when the room transitions to InProgress.
	// members is the seat order (join order).
	OnGameStart(members []string) []Effect
	// OnMessage handles one gameplay payload from a member. A returned error
	// is surfaced to the sender as a handler_error Result; it is never fatal
	// to the room or the connection.
	OnMessage(connID string, payload json.RawMessage) ([]Effect, error)
	// OnMemberLeave is called when a member leaves mid-game.
	OnMemberLeave(connID string) []Effect
}

// Effect is one outward consequence of a handler invocation.
type Effect interface{ effect() }

// Reply sets the status and data of the Result answering the message that
// triggered the handler. At most one Reply per invocation is honored.
type Reply struct {
	Status protocol.Status
	Data   json.RawMessage
}

// BroadcastAll fans handler-defined state out to every member not excluded.
type BroadcastAll struct {
	Data    json.RawMessage
	Exclude []string
}

// Notify pushes handler-defined state to a single member.
type Notify struct {
	ConnID string
	Data   json.RawMessage
}

// EndGame reports the terminal outcome. The room broadcasts it and closes.
type EndGame struct {
	Data json.RawMessage
}

func (Reply) effect()        {}
func (BroadcastAll) effect() {}
func (Notify) effect()       {}
func (EndGame) effect()      {}

// HandlerFactory builds a fresh GameHandler for a new room.
type HandlerFactory func() (GameHandler, error)

// GameTypes maps game type names to handler factories. The default type is
// used when a create request names no type.
// All methods are safe for concurrent use.
type GameTypes struct {
	mu          sync.RWMutex
	factories   map[string]HandlerFactory
	defaultType string
}

// NewGameTypes creates an empty game type registry.
func NewGameTypes() *GameTypes {
	return &GameTypes{
		factories: make(map[string]HandlerFactory),
	}
}

// Register adds a game type. The first registered type becomes the default
// unless SetDefault overrides it.
//
// Precondition: name must be non-empty; factory must be non-nil.
func (g *GameTypes) Register(name string, factory HandlerFactory) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.factories[name] = factory
	if g.defaultType == "" {
		g.defaultType = name
	}
}

// SetDefault names the game type used when a create request omits one.
func (g *GameTypes) SetDefault(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultType = name
}

// Create builds a handler for the named game type. An empty name selects the
// default type.
//
// Postcondition: Returns a non-nil GameHandler or a non-nil error.
func (g *GameTypes) Create(name string) (GameHandler, error) {
	g.mu.RLock()
	if name == "" {
		name = g.defaultType
	}
	factory, ok := g.factories[name]
	g.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown game type %q", name)
	}
	return factory()
}

// Types returns the registered game type names.
func (g *GameTypes) Types() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.factories))
	for name := range g.factories {
		names = append(names, name)
	}
	return names
}
