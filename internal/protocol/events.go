// Package protocol defines the wire format shared by the broker and its
// websocket clients: the event envelope, event name constants, and the typed
// payloads of broker-originated notifications.
package protocol

import "encoding/json"

// Client → broker events.
const (
	EventJoinQueue         = "joinQueue"
	EventPlayerStateUpdate = "playerStateUpdate"
	EventFireRequest       = "fireRequest"
	EventRequestReload     = "requestReload"
	EventGameStateSync     = "gameStateSync"
	EventStartKillCam      = "startKillCam"
	EventBombPlanted       = "bombPlanted"
	EventBombDefused       = "bombDefused"
	EventBombExploded      = "bombExploded"
	EventKillFeed          = "killFeedEvent"
	EventRoundOver         = "roundOver"
	EventGameOver          = "gameOver"
)

// Broker → client events.
const (
	EventQueueJoined      = "queueJoined"
	EventMatchFound       = "matchFound"
	EventPlayerListUpdate = "playerListUpdate"
	EventNewHost          = "newHost"
	// EventReloadRequest is the host-side name of a relayed requestReload.
	EventReloadRequest = "reloadRequestFromClient"
)

// Envelope is the framing for every message in either direction.
type Envelope struct {
	// Event is the event name.
	Event string `json:"event"`
	// Data is the event payload; may be absent for payload-free events.
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinQueueRequest is the payload of a joinQueue event.
type JoinQueueRequest struct {
	// Mode is the matchmaking mode identifier, e.g. "3v3".
	Mode string `json:"mode"`
	// DisplayName is the name shown to other players in the match.
	DisplayName string `json:"displayName"`
}

// QueueJoined acknowledges a joinQueue before any match check runs.
type QueueJoined struct {
	Message string `json:"message"`
}

// PlayerInfo identifies one room member.
type PlayerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// MatchFound notifies every member of a newly created room.
type MatchFound struct {
	RoomID   string       `json:"roomId"`
	Players  []PlayerInfo `json:"players"`
	HostID   string       `json:"hostId"`
	GameMode string       `json:"gameMode"`
}

// PlayerListUpdate carries the surviving member list after a departure.
type PlayerListUpdate struct {
	Players []PlayerInfo `json:"players"`
}

// NewHost announces the member promoted after a host departure.
type NewHost struct {
	HostID string `json:"hostId"`
}
