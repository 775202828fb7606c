package room

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/partyserver/internal/config"
	"github.com/cory-johannsen/partyserver/internal/protocol"
)

// codeAlphabet is the character set for room join codes.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// codeLength is the length of a room join code.
const codeLength = 6

// Registry is the authoritative index from room id to Room. It is the single
// writer of that mapping; per-room operations go through the Room itself so
// different rooms never contend.
// All methods are safe for concurrent use.
type Registry struct {
	cfg    config.RoomsConfig
	types  *GameTypes
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty Registry.
//
// Precondition: types and logger must be non-nil.
func NewRegistry(cfg config.RoomsConfig, types *GameTypes, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		types:  types,
		logger: logger,
		rooms:  make(map[string]*Room),
	}
}

// Create allocates a new Open room.
//
// Postcondition: On StatusOK the room is reachable via Find. Returns
// capacity_exceeded when the global room ceiling is reached, not_found when
// the game type is unknown, protocol_error when the requested capacity is out
// of range.
func (reg *Registry) Create(opts Options) (*Room, protocol.Status) {
	if opts.Capacity == 0 {
		opts.Capacity = reg.cfg.DefaultCapacity
	}
	if opts.Capacity < 1 || opts.Capacity > reg.cfg.MaxCapacity {
		return nil, protocol.StatusProtocolError
	}
	if opts.MinMembersToStart == 0 {
		opts.MinMembersToStart = reg.cfg.MinMembersToStart
	}

	handler, err := reg.types.Create(opts.GameType)
	if err != nil {
		reg.logger.Warn("creating game handler", zap.String("game_type", opts.GameType), zap.Error(err))
		return nil, protocol.StatusNotFound
	}
	if opts.GameType == "" {
		opts.GameType = reg.types.defaultTypeName()
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.cfg.MaxRooms > 0 && len(reg.rooms) >= reg.cfg.MaxRooms {
		// The handler was built before the ceiling check; release whatever
		// it holds (a loaded Lua VM for scripted types).
		if closer, ok := handler.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, protocol.StatusCapacityExceeded
	}

	id := reg.newCodeLocked()
	r := New(id, opts, handler, reg.logger, reg.remove)
	reg.rooms[id] = r

	reg.logger.Info("room created",
		zap.String("room_id", id),
		zap.String("game_type", opts.GameType),
		zap.Int("capacity", opts.Capacity),
		zap.Bool("public", opts.Public),
		zap.Int("rooms", len(reg.rooms)),
	)
	return r, protocol.StatusOK
}

// Find returns the room for the given id.
//
// Postcondition: Returns (room, true) if present, or (nil, false) otherwise.
func (reg *Registry) Find(id string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// Destroy closes the room and removes it from the index. Destroying an
// absent id is a no-op so concurrent double-teardown is tolerated.
func (reg *Registry) Destroy(id string) {
	reg.mu.Lock()
	r, ok := reg.rooms[id]
	if ok {
		delete(reg.rooms, id)
	}
	reg.mu.Unlock()

	if ok {
		// Close clears every member's room pointer; r.onClosed is the
		// remove below, which is a no-op by then.
		r.Close("destroyed")
	}
}

// Count returns the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// OpenPublicRooms returns the rooms currently eligible for matchmaking.
func (reg *Registry) OpenPublicRooms() []*Room {
	reg.mu.RLock()
	candidates := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		candidates = append(candidates, r)
	}
	reg.mu.RUnlock()

	open := candidates[:0]
	for _, r := range candidates {
		if r.Public() && r.Joinable() {
			open = append(open, r)
		}
	}
	return open
}

// Sweep closes Open rooms that have seen no join since before now minus the
// configured idle timeout. Returns the number of rooms closed.
func (reg *Registry) Sweep(now time.Time) int {
	if reg.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-reg.cfg.IdleTimeout)

	reg.mu.RLock()
	candidates := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		candidates = append(candidates, r)
	}
	reg.mu.RUnlock()

	closed := 0
	for _, r := range candidates {
		if r.CloseIfIdle(cutoff) {
			closed++
		}
	}
	if closed > 0 {
		reg.logger.Info("idle rooms reaped", zap.Int("count", closed))
	}
	return closed
}

// RunSweeper runs Sweep on the given interval until ctx is cancelled.
func (reg *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reg.Sweep(now)
		}
	}
}

// CloseAll destroys every room. Used at process shutdown.
func (reg *Registry) CloseAll() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for _, r := range rooms {
		r.Close("shutdown")
	}
}

// remove drops the index entry for a room that closed itself.
func (reg *Registry) remove(id string) {
	reg.mu.Lock()
	delete(reg.rooms, id)
	reg.mu.Unlock()
}

// newCodeLocked generates a join code not already in use.
func (reg *Registry) newCodeLocked() string {
	for {
		code := make([]byte, codeLength)
		for i := range code {
			code[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
		}
		if _, taken := reg.rooms[string(code)]; !taken {
			return string(code)
		}
	}
}

func (g *GameTypes) defaultTypeName() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.defaultType
}
