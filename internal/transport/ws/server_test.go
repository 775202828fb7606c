package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/partyserver/internal/config"
	"github.com/cory-johannsen/partyserver/internal/dispatch"
	"github.com/cory-johannsen/partyserver/internal/room"
	"github.com/cory-johannsen/partyserver/internal/session"
	"github.com/cory-johannsen/partyserver/internal/testutil"
)

// noopHandler is a test game handler that does nothing.
type noopHandler struct{}

func (noopHandler) OnGameStart([]string) []room.Effect { return nil }
func (noopHandler) OnMessage(string, json.RawMessage) ([]room.Effect, error) {
	return nil, nil
}
func (noopHandler) OnMemberLeave(string) []room.Effect { return nil }

func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	types := room.NewGameTypes()
	types.Register("noop", func() (room.GameHandler, error) {
		return noopHandler{}, nil
	})
	logger := zaptest.NewLogger(t)
	registry := room.NewRegistry(config.RoomsConfig{
		DefaultCapacity:   6,
		MaxCapacity:       16,
		MinMembersToStart: 2,
		IdleTimeout:       time.Hour,
	}, types, logger)
	return dispatch.New(registry, session.NewManager(), nil, config.ProtocolConfig{
		MaxMalformed:   5,
		OutboundQueue:  16,
		OverflowPolicy: "drop",
	}, logger)
}

func startServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.WebSocketConfig{
		Enabled:         true,
		Host:            "127.0.0.1",
		Port:            0, // random port
		Path:            "/ws",
		WriteTimeout:    5 * time.Second,
		PongTimeout:     60 * time.Second,
		MaxMessageBytes: 4096,
	}
	srv := NewServer(cfg, newTestDispatcher(t), zaptest.NewLogger(t))

	go func() {
		_ = srv.ListenAndServe()
	}()

	deadline := time.After(2 * time.Second)
	for {
		if srv.IsRunning() && srv.Addr() != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("server did not start in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Cleanup(srv.Stop)
	return srv
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Kind   string `json:"kind"`
	Op     string `json:"op"`
	Token  string `json:"token"`
	Status string `json:"status"`
	Event  string `json:"event"`
	Room   string `json:"room_id"`
	Data   struct {
		RoomID string `json:"room_id"`
	} `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestServerServesProtocol(t *testing.T) {
	srv := startServer(t)

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"op":"create_room","token":"c1"}`)))

	res := readFrame(t, conn)
	assert.Equal(t, "result", res.Kind)
	assert.Equal(t, "create_room", res.Op)
	assert.Equal(t, "c1", res.Token)
	assert.Equal(t, "ok", res.Status)
	assert.NotEmpty(t, res.Data.RoomID)
}

func TestServerBroadcastsAcrossClients(t *testing.T) {
	srv := startServer(t)

	first := dial(t, srv)
	require.NoError(t, first.WriteMessage(websocket.TextMessage,
		[]byte(`{"op":"create_room","token":"c"}`)))
	created := readFrame(t, first)
	require.Equal(t, "ok", created.Status)

	second := dial(t, srv)
	require.NoError(t, second.WriteMessage(websocket.TextMessage,
		[]byte(`{"op":"join_room","token":"j","room_id":"`+created.Data.RoomID+`"}`)))
	joined := readFrame(t, second)
	assert.Equal(t, "ok", joined.Status)

	announce := readFrame(t, first)
	assert.Equal(t, "broadcast", announce.Kind)
	assert.Equal(t, "member_joined", announce.Event)
	assert.Equal(t, created.Data.RoomID, announce.Room)
}

func TestServerUpgradePathOnly(t *testing.T) {
	srv := startServer(t)

	_, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/nope", nil)
	assert.Error(t, err)
}

func TestServerMatchmakingJoin(t *testing.T) {
	srv := startServer(t)

	first := testutil.NewWSClient(t, "ws://"+srv.Addr()+"/ws")
	first.Send("join_room", "m1", nil)
	matched := first.Next(2 * time.Second)
	require.Equal(t, "ok", matched.Status)
	roomID := matched.DataField(t, "room_id")
	require.NotEmpty(t, roomID)

	second := testutil.NewWSClient(t, "ws://"+srv.Addr()+"/ws")
	second.Send("join_room", "m2", nil)
	joined := second.Next(2 * time.Second)
	require.Equal(t, "ok", joined.Status)
	assert.Equal(t, roomID, joined.DataField(t, "room_id"))

	announce := first.Next(2 * time.Second)
	assert.Equal(t, "member_joined", announce.Event)
	assert.Equal(t, roomID, announce.RoomID)
}

func TestServerClientDisconnectLeavesRoom(t *testing.T) {
	srv := startServer(t)

	first := dial(t, srv)
	require.NoError(t, first.WriteMessage(websocket.TextMessage,
		[]byte(`{"op":"create_room","token":"c"}`)))
	created := readFrame(t, first)
	require.Equal(t, "ok", created.Status)

	second := dial(t, srv)
	require.NoError(t, second.WriteMessage(websocket.TextMessage,
		[]byte(`{"op":"join_room","token":"j","room_id":"`+created.Data.RoomID+`"}`)))
	require.Equal(t, "ok", readFrame(t, second).Status)
	readFrame(t, first) // member_joined

	require.NoError(t, second.Close())

	left := readFrame(t, first)
	assert.Equal(t, "broadcast", left.Kind)
	assert.Equal(t, "member_left", left.Event)
}
