package tcp

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/partyserver/internal/config"
	"github.com/cory-johannsen/partyserver/internal/dispatch"
	"github.com/cory-johannsen/partyserver/internal/room"
	"github.com/cory-johannsen/partyserver/internal/session"
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

func startAcceptor(t *testing.T) (*Acceptor, chan error) {
	t.Helper()
	cfg := config.TCPConfig{
		Enabled:      true,
		Host:         "127.0.0.1",
		Port:         0, // random port
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxLineBytes: 4096,
	}
	acc := NewAcceptor(cfg, newTestDispatcher(t), zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- acc.ListenAndServe()
	}()

	deadline := time.After(2 * time.Second)
	for {
		if acc.IsRunning() && acc.Addr() != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("acceptor did not start in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	return acc, errCh
}

type lineResult struct {
	Kind   string `json:"kind"`
	Op     string `json:"op"`
	Token  string `json:"token"`
	Status string `json:"status"`
	Data   struct {
		RoomID string `json:"room_id"`
	} `json:"data"`
}

func readResult(t *testing.T, r *bufio.Reader, raw net.Conn) lineResult {
	t.Helper()
	_ = raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	require.NoError(t, err)

	var res lineResult
	require.NoError(t, json.Unmarshal([]byte(line), &res))
	return res
}

func TestAcceptorServesProtocol(t *testing.T) {
	acc, errCh := startAcceptor(t)

	conn, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
	require.NoError(t, err)
	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte(`{"op":"create_room","token":"c1"}` + "\n"))
	require.NoError(t, err)

	res := readResult(t, reader, conn)
	assert.Equal(t, "result", res.Kind)
	assert.Equal(t, "create_room", res.Op)
	assert.Equal(t, "c1", res.Token)
	assert.Equal(t, "ok", res.Status)
	assert.NotEmpty(t, res.Data.RoomID)

	_, err = conn.Write([]byte(`{"op":"leave_room","token":"l1"}` + "\n"))
	require.NoError(t, err)

	res = readResult(t, reader, conn)
	assert.Equal(t, "leave_room", res.Op)
	assert.Equal(t, "ok", res.Status)

	conn.Close()
	acc.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("acceptor did not stop in time")
	}
}

func TestAcceptorMultipleClients(t *testing.T) {
	acc, _ := startAcceptor(t)
	defer acc.Stop()

	// First client opens a room, the second joins it over its own socket.
	first, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
	require.NoError(t, err)
	defer first.Close()
	firstReader := bufio.NewReader(first)

	_, err = first.Write([]byte(`{"op":"create_room","token":"c"}` + "\n"))
	require.NoError(t, err)
	created := readResult(t, firstReader, first)
	require.Equal(t, "ok", created.Status)

	second, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
	require.NoError(t, err)
	defer second.Close()
	secondReader := bufio.NewReader(second)

	_, err = second.Write([]byte(`{"op":"join_room","token":"j","room_id":"` + created.Data.RoomID + `"}` + "\n"))
	require.NoError(t, err)
	joined := readResult(t, secondReader, second)
	assert.Equal(t, "ok", joined.Status)

	// The join is announced to the first client as a broadcast line.
	announce := readResult(t, firstReader, first)
	assert.Equal(t, "broadcast", announce.Kind)
}

func TestAcceptorStopWithoutStart(t *testing.T) {
	acc := NewAcceptor(config.TCPConfig{}, newTestDispatcher(t), zaptest.NewLogger(t))
	acc.Stop() // no-op
	assert.False(t, acc.IsRunning())
}
