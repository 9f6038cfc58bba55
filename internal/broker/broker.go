package broker

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/protocol"
)

// Broker owns the matchmaking queues, the active rooms, and the connection
// metadata side-table, and serializes every inbound event under a single
// mutex. No handler performs I/O while holding the mutex: outbound delivery
// goes through a non-blocking Sender.
type Broker struct {
	mu       sync.Mutex
	logger   *zap.Logger
	modes    *ModeSet
	registry *Registry
	queues   *QueueSet
	rooms    *RoomManager
	relay    *Dispatcher
	sender   Sender
}

// Stats is a point-in-time snapshot of broker occupancy.
type Stats struct {
	Connections int
	Waiting     int
	Rooms       int
}

// New creates a Broker.
//
// Precondition: modes, sender, and logger must be non-nil.
func New(modes *ModeSet, sender Sender, logger *zap.Logger) *Broker {
	rooms := NewRoomManager()
	return &Broker{
		logger:   logger,
		modes:    modes,
		registry: NewRegistry(),
		queues:   NewQueueSet(),
		rooms:    rooms,
		relay:    NewDispatcher(rooms, sender, logger),
		sender:   sender,
	}
}

// Connect registers a new live connection.
func (b *Broker) Connect(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registry.Register(connID)
	b.logger.Debug("connection registered", zap.String("conn", connID))
}

// JoinQueue handles a joinQueue request: it validates the mode, records the
// display name, enqueues the connection (deduplicating across queues),
// acknowledges, and creates a room when the queue reaches the mode's
// required count.
//
// Postcondition: On an unknown mode no state changes. Otherwise the
// connection is queued or matched into a room, never both.
func (b *Broker) JoinQueue(connID string, req protocol.JoinQueueRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mode, ok := b.modes.Get(req.Mode)
	if !ok {
		b.logger.Warn("join queue for unknown mode",
			zap.String("conn", connID),
			zap.String("mode", req.Mode),
		)
		return
	}

	if room, inRoom := b.rooms.RoomOf(connID); inRoom {
		// Queue membership and room membership are mutually exclusive.
		b.logger.Warn("dropping join queue from active room member",
			zap.String("conn", connID),
			zap.String("room", room.ID),
		)
		return
	}

	b.registry.SetDisplayName(connID, req.DisplayName)
	b.registry.SetMode(connID, mode.ID)
	b.queues.Add(connID, mode.ID)

	// Acknowledge before the threshold check so a player completing a match
	// still observes the ack first.
	b.sender.Send(connID, protocol.EventQueueJoined, protocol.QueueJoined{
		Message: fmt.Sprintf("queued for %s", mode.ID),
	})
	b.logger.Info("player queued",
		zap.String("conn", connID),
		zap.String("mode", mode.ID),
		zap.Int("waiting", b.queues.Len(mode.ID)),
	)

	group, ready := b.queues.PopReady(mode.ID, mode.RequiredCount())
	if !ready {
		return
	}
	b.startMatch(mode, group)
}

// startMatch creates a room for a matched group and notifies every member.
// Caller must hold b.mu.
func (b *Broker) startMatch(mode Mode, group []string) {
	members := make([]Member, len(group))
	for i, id := range group {
		members[i] = Member{ID: id, DisplayName: b.registry.DisplayName(id)}
		b.registry.ClearMode(id)
	}

	room := b.rooms.Create(mode.ID, members)

	notif := protocol.MatchFound{
		RoomID:   room.ID,
		Players:  toPlayerInfo(room.Members),
		HostID:   room.HostID,
		GameMode: room.Mode,
	}
	for _, m := range room.Members {
		b.sender.Send(m.ID, protocol.EventMatchFound, notif)
	}

	b.logger.Info("match created",
		zap.String("room", room.ID),
		zap.String("mode", room.Mode),
		zap.String("host", room.HostID),
		zap.Int("players", len(room.Members)),
	)
}

// HandleEvent relays one inbound game event per the dispatcher policy.
func (b *Broker) HandleEvent(connID, event string, data map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay.Relay(connID, event, data)
}

// Disconnect removes a connection from the queue and from its room, migrating
// the host role and notifying survivors as needed.
//
// Postcondition: No queue, room, or registry entry references the connection.
func (b *Broker) Disconnect(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queues.Remove(connID)

	if dep, ok := b.rooms.Remove(connID); ok {
		b.handleDeparture(connID, dep)
	}

	b.registry.Unregister(connID)
	b.logger.Debug("connection removed", zap.String("conn", connID))
}

// handleDeparture notifies a room's survivors after a member left.
// Caller must hold b.mu.
func (b *Broker) handleDeparture(connID string, dep Departure) {
	room := dep.Room

	if dep.RoomDeleted {
		b.logger.Info("room deleted",
			zap.String("room", room.ID),
			zap.String("last_member", connID),
		)
		return
	}

	update := protocol.PlayerListUpdate{Players: toPlayerInfo(room.Members)}
	for _, m := range room.Members {
		b.sender.Send(m.ID, protocol.EventPlayerListUpdate, update)
	}

	if dep.WasHost {
		promoted := protocol.NewHost{HostID: dep.NewHostID}
		for _, m := range room.Members {
			b.sender.Send(m.ID, protocol.EventNewHost, promoted)
		}
		b.logger.Info("host migrated",
			zap.String("room", room.ID),
			zap.String("old_host", connID),
			zap.String("new_host", dep.NewHostID),
		)
	}
}

// RoomOf returns the id of the room the connection occupies, if any.
func (b *Broker) RoomOf(connID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.rooms.RoomOf(connID)
	if !ok {
		return "", false
	}
	return room.ID, true
}

// Snapshot returns current occupancy counters.
func (b *Broker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Connections: b.registry.Count(),
		Waiting:     b.queues.WaitingCount(),
		Rooms:       b.rooms.Count(),
	}
}

func toPlayerInfo(members []Member) []protocol.PlayerInfo {
	out := make([]protocol.PlayerInfo, len(members))
	for i, m := range members {
		out[i] = protocol.PlayerInfo{ID: m.ID, DisplayName: m.DisplayName}
	}
	return out
}
