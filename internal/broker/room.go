package broker

import "github.com/google/uuid"

// Member is one room occupant.
type Member struct {
	ID          string
	DisplayName string
}

// Room is the state of one active match: ordered members, host, mode.
//
// Invariant: HostID equals the ID of exactly one current member for as long
// as the room exists.
type Room struct {
	ID      string
	Mode    string
	Members []Member
	HostID  string
}

// MemberIDs returns the member connection ids in order.
func (r *Room) MemberIDs() []string {
	ids := make([]string, len(r.Members))
	for i, m := range r.Members {
		ids[i] = m.ID
	}
	return ids
}

// HasMember reports whether the given connection is a member.
func (r *Room) HasMember(connID string) bool {
	for _, m := range r.Members {
		if m.ID == connID {
			return true
		}
	}
	return false
}

// Departure describes the outcome of removing a member from a room.
type Departure struct {
	// Room is the room after the removal; nil only when the departing
	// connection was in no room.
	Room *Room
	// WasHost reports whether the departing member held the host role.
	WasHost bool
	// NewHostID is the promoted member's id when a migration happened.
	NewHostID string
	// RoomDeleted reports whether the removal emptied and deleted the room.
	RoomDeleted bool
}

// RoomManager owns the set of active rooms. It maintains a
// connection id → room id index so membership lookups are O(1) rather than a
// scan across rooms.
//
// Invariant: a connection belongs to at most one room at any time.
// Invariant: a room with zero members never persists past the operation that
// emptied it.
//
// RoomManager is not safe for concurrent use on its own; the Broker
// serializes all access under its single mutex.
type RoomManager struct {
	rooms  map[string]*Room
	byConn map[string]string // connection id → room id
}

// NewRoomManager creates an empty RoomManager.
func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:  make(map[string]*Room),
		byConn: make(map[string]string),
	}
}

// Create builds a room from a matched group. The first member is the host.
//
// Precondition: members must be non-empty and none may already be in a room.
// Postcondition: Returns the stored room with a fresh unique id and
// HostID == members[0].ID.
func (rm *RoomManager) Create(mode string, members []Member) *Room {
	room := &Room{
		ID:      uuid.NewString(),
		Mode:    mode,
		Members: append([]Member(nil), members...),
		HostID:  members[0].ID,
	}
	rm.rooms[room.ID] = room
	for _, m := range room.Members {
		rm.byConn[m.ID] = room.ID
	}
	return room
}

// RoomOf returns the room a connection occupies.
//
// Postcondition: Returns (room, true) if the connection is a member of a live
// room, or (nil, false) otherwise.
func (rm *RoomManager) RoomOf(connID string) (*Room, bool) {
	roomID, ok := rm.byConn[connID]
	if !ok {
		return nil, false
	}
	room, ok := rm.rooms[roomID]
	return room, ok
}

// Get returns the room with the given id.
func (rm *RoomManager) Get(roomID string) (*Room, bool) {
	room, ok := rm.rooms[roomID]
	return room, ok
}

// Remove takes a connection out of its room, migrating the host role to the
// first remaining member when the departing member was host, and deleting the
// room when it empties.
//
// Postcondition: Returns (departure, true) when the connection was in a room.
// When the room survives, departure.Room.HostID is a surviving member's id.
func (rm *RoomManager) Remove(connID string) (Departure, bool) {
	room, ok := rm.RoomOf(connID)
	if !ok {
		return Departure{}, false
	}
	delete(rm.byConn, connID)

	dep := Departure{Room: room, WasHost: room.HostID == connID}

	for i, m := range room.Members {
		if m.ID == connID {
			room.Members = append(room.Members[:i], room.Members[i+1:]...)
			break
		}
	}

	if len(room.Members) == 0 {
		delete(rm.rooms, room.ID)
		dep.RoomDeleted = true
		return dep, true
	}

	if dep.WasHost {
		// Positional succession: whichever member sorts first in the
		// already-filtered list becomes host.
		room.HostID = room.Members[0].ID
		dep.NewHostID = room.HostID
	}
	return dep, true
}

// Count returns the number of active rooms.
func (rm *RoomManager) Count() int {
	return len(rm.rooms)
}
