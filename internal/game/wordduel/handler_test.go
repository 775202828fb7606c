package wordduel

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/partyserver/internal/room"
)

func newStartedHandler(t *testing.T, target int, members ...string) *Handler {
	t.Helper()
	h := New(target, zap.NewNop())
	effects := h.OnGameStart(members)
	require.Len(t, effects, 1)
	return h
}

func move(word string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"word":%q}`, word))
}

type replyData struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
	Score    int    `json:"score"`
}

func firstReply(t *testing.T, effects []room.Effect) replyData {
	t.Helper()
	require.NotEmpty(t, effects)
	reply, ok := effects[0].(room.Reply)
	require.True(t, ok, "first effect must be a Reply, got %T", effects[0])

	var data replyData
	require.NoError(t, json.Unmarshal(reply.Data, &data))
	return data
}

func TestStartAnnouncesFirstTurn(t *testing.T) {
	h := New(0, zap.NewNop())
	effects := h.OnGameStart([]string{"alice", "bob"})
	require.Len(t, effects, 1)

	b, ok := effects[0].(room.BroadcastAll)
	require.True(t, ok)

	var data struct {
		Turn   string         `json:"turn"`
		Target int            `json:"target"`
		Scores map[string]int `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(b.Data, &data))
	assert.Equal(t, "alice", data.Turn, "first seat moves first")
	assert.Equal(t, DefaultTargetScore, data.Target)
	assert.Equal(t, map[string]int{"alice": 0, "bob": 0}, data.Scores)
}

func TestAcceptedMoveScoresAndRotates(t *testing.T) {
	h := newStartedHandler(t, 100, "alice", "bob")

	effects, err := h.OnMessage("alice", move("lantern"))
	require.NoError(t, err)
	require.Len(t, effects, 2)

	reply := firstReply(t, effects)
	assert.True(t, reply.Accepted)
	assert.Equal(t, len("lantern"), reply.Score)

	b := effects[1].(room.BroadcastAll)
	var data struct {
		Word string `json:"word"`
		By   string `json:"by"`
		Turn string `json:"turn"`
	}
	require.NoError(t, json.Unmarshal(b.Data, &data))
	assert.Equal(t, "lantern", data.Word)
	assert.Equal(t, "alice", data.By)
	assert.Equal(t, "bob", data.Turn)
}

func TestOutOfTurnRejected(t *testing.T) {
	h := newStartedHandler(t, 100, "alice", "bob")

	effects, err := h.OnMessage("bob", move("lantern"))
	require.NoError(t, err)
	reply := firstReply(t, effects)
	assert.False(t, reply.Accepted)
	assert.Equal(t, "not_your_turn", reply.Reason)
}

func TestChainRule(t *testing.T) {
	h := newStartedHandler(t, 100, "alice", "bob")

	_, err := h.OnMessage("alice", move("lantern"))
	require.NoError(t, err)

	// "lantern" ends in n, so bob's word must start with n.
	effects, err := h.OnMessage("bob", move("apple"))
	require.NoError(t, err)
	reply := firstReply(t, effects)
	assert.False(t, reply.Accepted)
	assert.Equal(t, "chain_broken", reply.Reason)

	effects, err = h.OnMessage("bob", move("night"))
	require.NoError(t, err)
	assert.True(t, firstReply(t, effects).Accepted)
}

func TestWordValidation(t *testing.T) {
	tests := []struct {
		name   string
		word   string
		reason string
	}{
		{"too short", "a", "too_short"},
		{"empty", "", "too_short"},
		{"digits", "h4ck", "not_a_word"},
		{"spaces inside", "two words", "not_a_word"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newStartedHandler(t, 100, "alice", "bob")
			effects, err := h.OnMessage("alice", move(tt.word))
			require.NoError(t, err)
			reply := firstReply(t, effects)
			assert.False(t, reply.Accepted)
			assert.Equal(t, tt.reason, reply.Reason)
		})
	}
}

func TestReusedWordRejected(t *testing.T) {
	h := newStartedHandler(t, 100, "alice", "bob")

	_, err := h.OnMessage("alice", move("noon"))
	require.NoError(t, err)

	effects, err := h.OnMessage("bob", move("noon"))
	require.NoError(t, err)
	reply := firstReply(t, effects)
	assert.False(t, reply.Accepted)
	assert.Equal(t, "already_used", reply.Reason)
}

func TestCaseAndWhitespaceNormalized(t *testing.T) {
	h := newStartedHandler(t, 100, "alice", "bob")

	effects, err := h.OnMessage("alice", move("  Lantern  "))
	require.NoError(t, err)
	assert.True(t, firstReply(t, effects).Accepted)
}

func TestTargetScoreEndsGame(t *testing.T) {
	h := newStartedHandler(t, 5, "alice", "bob")

	effects, err := h.OnMessage("alice", move("lantern"))
	require.NoError(t, err)
	require.Len(t, effects, 3)

	end, ok := effects[2].(room.EndGame)
	require.True(t, ok)

	var data struct {
		Winner string         `json:"winner"`
		Scores map[string]int `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(end.Data, &data))
	assert.Equal(t, "alice", data.Winner)
	assert.Equal(t, len("lantern"), data.Scores["alice"])

	// Moves after the end are errors.
	_, err = h.OnMessage("bob", move("night"))
	require.Error(t, err)
}

func TestLeaveSkipsDeadSeat(t *testing.T) {
	h := newStartedHandler(t, 100, "alice", "bob", "carol")

	// Bob leaves while alice holds the turn; rotation must skip him.
	effects := h.OnMemberLeave("bob")
	assert.Empty(t, effects)

	moveEffects, err := h.OnMessage("alice", move("lantern"))
	require.NoError(t, err)
	b := moveEffects[1].(room.BroadcastAll)
	var data struct {
		Turn string `json:"turn"`
	}
	require.NoError(t, json.Unmarshal(b.Data, &data))
	assert.Equal(t, "carol", data.Turn)
}

func TestCurrentPlayerLeaveForfeitsTurn(t *testing.T) {
	h := newStartedHandler(t, 100, "alice", "bob", "carol")

	effects := h.OnMemberLeave("alice")
	require.Len(t, effects, 1)

	b, ok := effects[0].(room.BroadcastAll)
	require.True(t, ok)
	var data struct {
		Turn string `json:"turn"`
	}
	require.NoError(t, json.Unmarshal(b.Data, &data))
	assert.Equal(t, "bob", data.Turn)
}

func TestLastOpponentLeaveEndsGame(t *testing.T) {
	h := newStartedHandler(t, 100, "alice", "bob")

	effects := h.OnMemberLeave("bob")
	require.Len(t, effects, 1)

	end, ok := effects[0].(room.EndGame)
	require.True(t, ok)

	var data struct {
		Winner string `json:"winner"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(end.Data, &data))
	assert.Equal(t, "alice", data.Winner)
	assert.Equal(t, "opponents_left", data.Reason)
}

func TestMalformedMoveIsError(t *testing.T) {
	h := newStartedHandler(t, 100, "alice", "bob")
	_, err := h.OnMessage("alice", json.RawMessage(`"not an object"`))
	require.Error(t, err)
}

func TestFactoryBuildsFreshHandlers(t *testing.T) {
	factory := Factory(0, zap.NewNop())
	a, err := factory()
	require.NoError(t, err)
	b, err := factory()
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}
