// Package wordduel implements the built-in turn-based word game: members
// take turns submitting words, each word must chain off the last letter of
// the previous one, and the first player to reach the target score wins.
package wordduel

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/partyserver/internal/protocol"
	"github.com/cory-johannsen/partyserver/internal/room"
)

// GameType is the name rooms select this handler with.
const GameType = "wordduel"

// DefaultTargetScore ends the game once a player's score reaches it.
const DefaultTargetScore = 50

// playerState tracks one seat's score and liveness.
type playerState struct {
	id    string
	score int
	alive bool
}

// Handler is the wordduel game logic for one room. The owning room
// serializes all calls, so no locking is needed.
type Handler struct {
	logger *zap.Logger
	target int

	players []*playerState
	used    map[string]bool
	word    string
	turn    int
	started bool
	over    bool
}

// New creates a wordduel handler with the given target score. target <= 0
// uses DefaultTargetScore.
//
// Precondition: logger must be non-nil.
func New(target int, logger *zap.Logger) *Handler {
	if target <= 0 {
		target = DefaultTargetScore
	}
	return &Handler{
		logger: logger,
		target: target,
		used:   make(map[string]bool),
	}
}

// Factory returns a HandlerFactory producing one fresh Handler per room.
func Factory(target int, logger *zap.Logger) room.HandlerFactory {
	return func() (room.GameHandler, error) {
		return New(target, logger), nil
	}
}

// moveInput is the gameplay payload shape.
type moveInput struct {
	Word string `json:"word"`
}

// OnGameStart seats the members in join order and announces the first turn.
func (h *Handler) OnGameStart(members []string) []room.Effect {
	h.players = make([]*playerState, len(members))
	for i, id := range members {
		h.players[i] = &playerState{id: id, alive: true}
	}
	h.turn = 0
	h.started = true

	return []room.Effect{
		room.BroadcastAll{Data: protocol.MarshalData(map[string]any{
			"turn":   h.players[h.turn].id,
			"target": h.target,
			"scores": h.scores(),
		})},
	}
}

// OnMessage applies one word submission. Rejections (out of turn, broken
// chain, reused word) answer only the sender; accepted moves are broadcast
// with the next turn.
func (h *Handler) OnMessage(connID string, payload json.RawMessage) ([]room.Effect, error) {
	var input moveInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("decoding move: %w", err)
	}
	if !h.started || h.over {
		return nil, fmt.Errorf("no game in progress")
	}

	current := h.players[h.turn]
	if current.id != connID {
		return h.reject("not_your_turn"), nil
	}

	word := strings.ToLower(strings.TrimSpace(input.Word))
	if reason, ok := h.checkWord(word); !ok {
		return h.reject(reason), nil
	}

	current.score += len(word)
	h.word = word
	h.used[word] = true
	h.advanceTurn()

	effects := []room.Effect{
		room.Reply{Status: protocol.StatusOK, Data: protocol.MarshalData(map[string]any{
			"accepted": true,
			"score":    current.score,
		})},
		room.BroadcastAll{Data: protocol.MarshalData(map[string]any{
			"word":   word,
			"by":     connID,
			"turn":   h.players[h.turn].id,
			"scores": h.scores(),
		})},
	}

	if current.score >= h.target {
		h.over = true
		h.logger.Info("game won",
			zap.String("winner", current.id),
			zap.Int("score", current.score),
		)
		effects = append(effects, room.EndGame{Data: protocol.MarshalData(map[string]any{
			"winner": current.id,
			"scores": h.scores(),
		})})
	}
	return effects, nil
}

// OnMemberLeave marks the seat dead. The game ends when one live player
// remains; otherwise a departed current player forfeits the turn.
func (h *Handler) OnMemberLeave(connID string) []room.Effect {
	if !h.started || h.over {
		return nil
	}

	idx := h.indexOf(connID)
	if idx < 0 || !h.players[idx].alive {
		return nil
	}
	h.players[idx].alive = false

	alive := h.alivePlayers()
	if len(alive) == 1 {
		h.over = true
		return []room.Effect{
			room.EndGame{Data: protocol.MarshalData(map[string]any{
				"winner": alive[0].id,
				"reason": "opponents_left",
				"scores": h.scores(),
			})},
		}
	}

	if idx == h.turn {
		h.advanceTurn()
		return []room.Effect{
			room.BroadcastAll{Data: protocol.MarshalData(map[string]any{
				"turn":   h.players[h.turn].id,
				"scores": h.scores(),
			})},
		}
	}
	return nil
}

// checkWord validates a submission against the chain rules.
func (h *Handler) checkWord(word string) (string, bool) {
	if len(word) < 2 {
		return "too_short", false
	}
	for _, r := range word {
		if r < 'a' || r > 'z' {
			return "not_a_word", false
		}
	}
	if h.used[word] {
		return "already_used", false
	}
	if h.word != "" && word[0] != h.word[len(h.word)-1] {
		return "chain_broken", false
	}
	return "", true
}

// advanceTurn moves to the next live seat, wrapping around.
func (h *Handler) advanceTurn() {
	for i := 1; i <= len(h.players); i++ {
		next := (h.turn + i) % len(h.players)
		if h.players[next].alive {
			h.turn = next
			return
		}
	}
}

func (h *Handler) reject(reason string) []room.Effect {
	return []room.Effect{
		room.Reply{Status: protocol.StatusOK, Data: protocol.MarshalData(map[string]any{
			"accepted": false,
			"reason":   reason,
		})},
	}
}

func (h *Handler) scores() map[string]int {
	out := make(map[string]int, len(h.players))
	for _, p := range h.players {
		out[p.id] = p.score
	}
	return out
}

func (h *Handler) indexOf(connID string) int {
	for i, p := range h.players {
		if p.id == connID {
			return i
		}
	}
	return -1
}

func (h *Handler) alivePlayers() []*playerState {
	var alive []*playerState
	for _, p := range h.players {
		if p.alive {
			alive = append(alive, p)
		}
	}
	return alive
}
