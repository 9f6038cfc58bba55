package broker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/skirmish/internal/config"
	"github.com/cory-johannsen/skirmish/internal/protocol"
)

type sentEvent struct {
	conn    string
	event   string
	payload any
}

// sendRecorder captures outbound events for assertions.
type sendRecorder struct {
	events []sentEvent
}

func (r *sendRecorder) Send(conn, event string, payload any) {
	r.events = append(r.events, sentEvent{conn: conn, event: event, payload: payload})
}

func (r *sendRecorder) byEvent(name string) []sentEvent {
	var out []sentEvent
	for _, e := range r.events {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *sendRecorder) to(conn string) []sentEvent {
	var out []sentEvent
	for _, e := range r.events {
		if e.conn == conn {
			out = append(out, e)
		}
	}
	return out
}

func (r *sendRecorder) reset() {
	r.events = nil
}

func testModes(t testing.TB) *ModeSet {
	modes, err := NewModeSet([]config.ModeConfig{
		{ID: "1v1", TeamsPerSide: 1},
		{ID: "2v2", TeamsPerSide: 2},
		{ID: "3v3", TeamsPerSide: 3},
	})
	if err != nil {
		t.Fatalf("building test modes: %v", err)
	}
	return modes
}

func newTestBroker(t testing.TB) (*Broker, *sendRecorder) {
	rec := &sendRecorder{}
	b := New(testModes(t), rec, zaptest.NewLogger(t))
	return b, rec
}

func join(b *Broker, connID, mode string) {
	b.Connect(connID)
	b.JoinQueue(connID, protocol.JoinQueueRequest{Mode: mode, DisplayName: "Player-" + connID})
}

func TestJoinQueueUnknownMode(t *testing.T) {
	b, rec := newTestBroker(t)
	b.Connect("c1")
	b.JoinQueue("c1", protocol.JoinQueueRequest{Mode: "99v99", DisplayName: "Alice"})

	assert.Empty(t, rec.events)
	assert.Equal(t, 0, b.Snapshot().Waiting)
}

func TestJoinQueueAcknowledges(t *testing.T) {
	b, rec := newTestBroker(t)
	join(b, "c1", "3v3")

	acks := rec.byEvent(protocol.EventQueueJoined)
	require.Len(t, acks, 1)
	assert.Equal(t, "c1", acks[0].conn)
	assert.Equal(t, 1, b.Snapshot().Waiting)
}

func TestJoinQueueBelowThresholdCreatesNoRoom(t *testing.T) {
	b, rec := newTestBroker(t)
	for i := 0; i < 5; i++ {
		join(b, fmt.Sprintf("c%d", i), "3v3")
	}

	assert.Empty(t, rec.byEvent(protocol.EventMatchFound))
	assert.Equal(t, 0, b.Snapshot().Rooms)
	assert.Equal(t, 5, b.Snapshot().Waiting)
}

func TestJoinQueueAtThresholdCreatesRoom(t *testing.T) {
	b, rec := newTestBroker(t)
	for i := 0; i < 6; i++ {
		join(b, fmt.Sprintf("c%d", i), "3v3")
	}

	found := rec.byEvent(protocol.EventMatchFound)
	require.Len(t, found, 6)

	notif, ok := found[0].payload.(protocol.MatchFound)
	require.True(t, ok)
	assert.Equal(t, "3v3", notif.GameMode)
	assert.Equal(t, "c0", notif.HostID, "first-queued player is host")
	require.Len(t, notif.Players, 6)
	assert.Equal(t, "c0", notif.Players[0].ID)
	assert.Equal(t, "Player-c0", notif.Players[0].DisplayName)

	stats := b.Snapshot()
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 0, stats.Waiting, "matched players leave the queue")
}

func TestJoinQueueAckPrecedesMatchFound(t *testing.T) {
	b, rec := newTestBroker(t)
	join(b, "a", "1v1")
	rec.reset()
	join(b, "b", "1v1")

	sends := rec.to("b")
	require.GreaterOrEqual(t, len(sends), 2)
	assert.Equal(t, protocol.EventQueueJoined, sends[0].event)
	assert.Equal(t, protocol.EventMatchFound, sends[1].event)
}

func TestJoinQueueFIFOMatching(t *testing.T) {
	b, rec := newTestBroker(t)
	for _, id := range []string{"c0", "c1", "c2"} {
		join(b, id, "1v1")
	}

	found := rec.byEvent(protocol.EventMatchFound)
	require.Len(t, found, 2)
	notif := found[0].payload.(protocol.MatchFound)
	assert.Equal(t, []protocol.PlayerInfo{
		{ID: "c0", DisplayName: "Player-c0"},
		{ID: "c1", DisplayName: "Player-c1"},
	}, notif.Players, "earliest arrivals matched first")

	// The third player is still waiting.
	assert.Equal(t, 1, b.Snapshot().Waiting)
	_, inRoom := b.RoomOf("c2")
	assert.False(t, inRoom)
}

func TestJoinQueueSwitchingModesDeduplicates(t *testing.T) {
	b, rec := newTestBroker(t)
	join(b, "c1", "3v3")
	b.JoinQueue("c1", protocol.JoinQueueRequest{Mode: "2v2", DisplayName: "Player-c1"})

	assert.Equal(t, 1, b.Snapshot().Waiting, "one connection occupies one queue")

	// Filling the original queue without c1 must not match it.
	rec.reset()
	for i := 0; i < 6; i++ {
		join(b, fmt.Sprintf("x%d", i), "3v3")
	}
	for _, e := range rec.byEvent(protocol.EventMatchFound) {
		assert.NotEqual(t, "c1", e.conn)
	}
}

func TestJoinQueueWhileInRoomDropped(t *testing.T) {
	b, rec := newTestBroker(t)
	join(b, "a", "1v1")
	join(b, "b", "1v1")
	rec.reset()

	b.JoinQueue("a", protocol.JoinQueueRequest{Mode: "1v1", DisplayName: "Player-a"})

	assert.Empty(t, rec.events)
	assert.Equal(t, 0, b.Snapshot().Waiting)
	_, inRoom := b.RoomOf("a")
	assert.True(t, inRoom, "room membership unchanged")
}

func TestDisconnectFromQueue(t *testing.T) {
	b, _ := newTestBroker(t)
	join(b, "c1", "3v3")
	b.Disconnect("c1")

	assert.Equal(t, 0, b.Snapshot().Waiting)
	assert.Equal(t, 0, b.Snapshot().Connections)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	b, _ := newTestBroker(t)
	join(b, "c1", "3v3")
	b.Disconnect("c1")
	b.Disconnect("c1")
	b.Disconnect("never-seen")

	assert.Equal(t, 0, b.Snapshot().Waiting)
}

func TestDisconnectNonHostNotifiesSurvivors(t *testing.T) {
	b, rec := newTestBroker(t)
	for _, id := range []string{"h", "m1", "m2", "m3"} {
		join(b, id, "2v2")
	}
	rec.reset()

	b.Disconnect("m2")

	updates := rec.byEvent(protocol.EventPlayerListUpdate)
	require.Len(t, updates, 3)
	list := updates[0].payload.(protocol.PlayerListUpdate)
	require.Len(t, list.Players, 3)
	for _, p := range list.Players {
		assert.NotEqual(t, "m2", p.ID)
	}

	assert.Empty(t, rec.byEvent(protocol.EventNewHost), "host unchanged, no newHost emitted")
}

func TestDisconnectHostMigrates(t *testing.T) {
	b, rec := newTestBroker(t)
	for _, id := range []string{"h", "m1", "m2", "m3"} {
		join(b, id, "2v2")
	}
	rec.reset()

	b.Disconnect("h")

	promoted := rec.byEvent(protocol.EventNewHost)
	require.Len(t, promoted, 3, "every survivor including the new host is told")
	for _, e := range promoted {
		assert.Equal(t, "m1", e.payload.(protocol.NewHost).HostID,
			"first remaining member in order becomes host")
	}
}

func TestDisconnectLastMemberDeletesRoom(t *testing.T) {
	b, rec := newTestBroker(t)
	join(b, "a", "1v1")
	join(b, "b", "1v1")

	b.Disconnect("a")
	rec.reset()
	b.Disconnect("b")

	assert.Empty(t, rec.events, "no notification for an emptied room")
	assert.Equal(t, 0, b.Snapshot().Rooms)
	_, inRoom := b.RoomOf("a")
	assert.False(t, inRoom)
	_, inRoom = b.RoomOf("b")
	assert.False(t, inRoom)
}

// Full 1v1 walkthrough: match, host relay, host departure.
func TestTwoPlayerMatchLifecycle(t *testing.T) {
	b, rec := newTestBroker(t)

	join(b, "A", "1v1")
	join(b, "B", "1v1")

	found := rec.byEvent(protocol.EventMatchFound)
	require.Len(t, found, 2)
	notif := found[0].payload.(protocol.MatchFound)
	roomID := notif.RoomID
	require.NotEmpty(t, roomID)
	assert.Equal(t, "A", notif.HostID)
	require.Len(t, notif.Players, 2)

	// Host broadcasts state; only B receives it.
	rec.reset()
	b.HandleEvent("A", protocol.EventGameStateSync, map[string]any{"roomId": roomID, "state": "X"})
	syncs := rec.byEvent(protocol.EventGameStateSync)
	require.Len(t, syncs, 1)
	assert.Equal(t, "B", syncs[0].conn)
	payload := syncs[0].payload.(map[string]any)
	assert.Equal(t, "X", payload["state"])

	// Host leaves: B is told the new roster and promoted.
	rec.reset()
	b.Disconnect("A")
	updates := rec.byEvent(protocol.EventPlayerListUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "B", updates[0].conn)
	require.Len(t, updates[0].payload.(protocol.PlayerListUpdate).Players, 1)

	promoted := rec.byEvent(protocol.EventNewHost)
	require.Len(t, promoted, 1)
	assert.Equal(t, "B", promoted[0].payload.(protocol.NewHost).HostID)

	_, inRoom := b.RoomOf("A")
	assert.False(t, inRoom)
	got, inRoom := b.RoomOf("B")
	require.True(t, inRoom)
	assert.Equal(t, roomID, got)
}

// Random joins and disconnects must never violate the structural invariants:
// host is always a member, queue and room membership are exclusive, empty
// rooms never persist.
func TestPropertyBrokerInvariants(t *testing.T) {
	modeSet := testModes(t)
	logger := zaptest.NewLogger(t)

	rapid.Check(t, func(t *rapid.T) {
		rec := &sendRecorder{}
		b := New(modeSet, rec, logger)
		modes := []string{"1v1", "2v2", "3v3"}

		numConns := rapid.IntRange(1, 24).Draw(t, "num_conns")
		ids := make([]string, numConns)
		for i := range ids {
			ids[i] = fmt.Sprintf("p%d", i)
			b.Connect(ids[i])
		}

		numOps := rapid.IntRange(1, 60).Draw(t, "num_ops")
		for i := 0; i < numOps; i++ {
			id := ids[rapid.IntRange(0, numConns-1).Draw(t, "conn")]
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				mode := modes[rapid.IntRange(0, len(modes)-1).Draw(t, "mode")]
				b.JoinQueue(id, protocol.JoinQueueRequest{Mode: mode, DisplayName: id})
			case 1:
				b.Disconnect(id)
				b.Connect(id)
			case 2:
				b.HandleEvent(id, protocol.EventGameStateSync, map[string]any{"state": i})
			}

			b.mu.Lock()
			for _, room := range b.rooms.rooms {
				if len(room.Members) == 0 {
					b.mu.Unlock()
					t.Fatalf("empty room %s persisted", room.ID)
				}
				if !room.HasMember(room.HostID) {
					b.mu.Unlock()
					t.Fatalf("room %s host %s is not a member", room.ID, room.HostID)
				}
				for _, m := range room.Members {
					if _, queued := b.queues.ModeOf(m.ID); queued {
						b.mu.Unlock()
						t.Fatalf("connection %s is queued and in room %s", m.ID, room.ID)
					}
					if b.rooms.byConn[m.ID] != room.ID {
						b.mu.Unlock()
						t.Fatalf("connection %s room index disagrees with membership", m.ID)
					}
				}
			}
			b.mu.Unlock()
		}
	})
}
