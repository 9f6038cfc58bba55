package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/skirmish/internal/broker"
	"github.com/cory-johannsen/skirmish/internal/config"
	"github.com/cory-johannsen/skirmish/internal/protocol"
)

func newTestGateway(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	s := NewServer(
		config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second},
		config.GatewayConfig{
			WriteTimeout: time.Second,
			PongTimeout:  5 * time.Second,
			PingInterval: time.Second,
			SendBuffer:   16,
		},
		zaptest.NewLogger(t),
	)

	modes, err := broker.NewModeSet([]config.ModeConfig{{ID: "1v1", TeamsPerSide: 1}})
	require.NoError(t, err)
	s.Attach(broker.New(modes, s, zaptest.NewLogger(t)))

	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(ts.Close)
	return s, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(protocol.Envelope{Event: event, Data: data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func recvEvent(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func TestGatewayMatchAndRelay(t *testing.T) {
	_, ts := newTestGateway(t)

	first := dialWS(t, ts)
	sendEvent(t, first, protocol.EventJoinQueue, protocol.JoinQueueRequest{Mode: "1v1", DisplayName: "Ace"})
	env := recvEvent(t, first)
	assert.Equal(t, protocol.EventQueueJoined, env.Event)

	second := dialWS(t, ts)
	sendEvent(t, second, protocol.EventJoinQueue, protocol.JoinQueueRequest{Mode: "1v1", DisplayName: "Bee"})
	env = recvEvent(t, second)
	assert.Equal(t, protocol.EventQueueJoined, env.Event)

	// Both receive matchFound; the first-queued player is host.
	env = recvEvent(t, first)
	require.Equal(t, protocol.EventMatchFound, env.Event)
	var found protocol.MatchFound
	require.NoError(t, json.Unmarshal(env.Data, &found))
	require.Len(t, found.Players, 2)
	assert.Equal(t, found.Players[0].ID, found.HostID)
	assert.Equal(t, "Ace", found.Players[0].DisplayName)
	assert.Equal(t, "1v1", found.GameMode)

	env = recvEvent(t, second)
	require.Equal(t, protocol.EventMatchFound, env.Event)

	// Host broadcast reaches the non-host.
	sendEvent(t, first, protocol.EventGameStateSync, map[string]any{"roomId": found.RoomID, "tick": 1})
	env = recvEvent(t, second)
	require.Equal(t, protocol.EventGameStateSync, env.Event)
	var sync map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &sync))
	assert.Equal(t, float64(1), sync["tick"])

	// Non-host unicast reaches the host with the sender id annotated.
	sendEvent(t, second, protocol.EventFireRequest, map[string]any{"weapon": "ak"})
	env = recvEvent(t, first)
	require.Equal(t, protocol.EventFireRequest, env.Event)
	var fire map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &fire))
	assert.Equal(t, found.Players[1].ID, fire["id"])

	// Host departure: the survivor learns the roster and its promotion.
	require.NoError(t, first.Close())
	env = recvEvent(t, second)
	require.Equal(t, protocol.EventPlayerListUpdate, env.Event)
	var update protocol.PlayerListUpdate
	require.NoError(t, json.Unmarshal(env.Data, &update))
	require.Len(t, update.Players, 1)
	assert.Equal(t, "Bee", update.Players[0].DisplayName)

	env = recvEvent(t, second)
	require.Equal(t, protocol.EventNewHost, env.Event)
	var promoted protocol.NewHost
	require.NoError(t, json.Unmarshal(env.Data, &promoted))
	assert.Equal(t, update.Players[0].ID, promoted.HostID)
}

func TestGatewayMalformedEnvelopeIgnored(t *testing.T) {
	_, ts := newTestGateway(t)

	conn := dialWS(t, ts)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	// The connection survives malformed input.
	sendEvent(t, conn, protocol.EventJoinQueue, protocol.JoinQueueRequest{Mode: "1v1", DisplayName: "Ace"})
	env := recvEvent(t, conn)
	assert.Equal(t, protocol.EventQueueJoined, env.Event)
}

func TestGatewaySendToUnknownConnection(t *testing.T) {
	s, _ := newTestGateway(t)
	// Soft failure: no panic, nothing delivered.
	s.Send("ghost", protocol.EventNewHost, protocol.NewHost{HostID: "ghost"})
	assert.Equal(t, 0, s.ClientCount())
}

func TestGatewayClientCount(t *testing.T) {
	s, ts := newTestGateway(t)

	conn := dialWS(t, ts)
	sendEvent(t, conn, protocol.EventJoinQueue, protocol.JoinQueueRequest{Mode: "1v1", DisplayName: "Ace"})
	recvEvent(t, conn)
	assert.Equal(t, 1, s.ClientCount())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, 2*time.Second, 20*time.Millisecond)
}
