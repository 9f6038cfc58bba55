package broker

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/protocol"
)

// Sender delivers an event to a single connection. Delivery is
// fire-and-forget: an unknown or gone connection is a soft failure the
// implementation absorbs, and Send must never block.
type Sender interface {
	Send(connID, event string, payload any)
}

// relayTarget classifies who receives a relayed event.
type relayTarget int

const (
	// toHost: non-host sender, targeted unicast to the room's host.
	toHost relayTarget = iota
	// toOthers: host sender, broadcast to every member but the sender.
	toOthers
	// toRoom: host sender, broadcast to every member including the sender.
	toRoom
)

// relayRule is the per-event forwarding policy.
type relayRule struct {
	target relayTarget
	// deliverAs renames the event on delivery; empty keeps the inbound name.
	deliverAs string
	// wrapClientID replaces the payload with {"clientId": sender} instead of
	// annotating the original payload with the sender id.
	wrapClientID bool
}

var relayRules = map[string]relayRule{
	protocol.EventPlayerStateUpdate: {target: toHost},
	protocol.EventFireRequest:       {target: toHost},
	protocol.EventRequestReload:     {target: toHost, deliverAs: protocol.EventReloadRequest, wrapClientID: true},
	protocol.EventGameStateSync:     {target: toOthers},
	protocol.EventStartKillCam:      {target: toRoom},
	protocol.EventBombPlanted:       {target: toOthers},
	protocol.EventBombDefused:       {target: toOthers},
	protocol.EventBombExploded:      {target: toOthers},
	protocol.EventKillFeed:          {target: toRoom},
	protocol.EventRoundOver:         {target: toRoom},
	protocol.EventGameOver:          {target: toRoom},
}

// IsRelayEvent reports whether the event name has a relay policy.
func IsRelayEvent(event string) bool {
	_, ok := relayRules[event]
	return ok
}

// Dispatcher applies the per-event relay policy: it resolves the sender's
// room, gates on the sender's host/non-host role, cross-checks any
// payload-declared room id against the server-tracked room, and forwards to
// the policy's targets. Every failure mode is a logged drop; Relay never
// errors.
type Dispatcher struct {
	rooms  *RoomManager
	sender Sender
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: rooms, sender, and logger must be non-nil.
func NewDispatcher(rooms *RoomManager, sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{rooms: rooms, sender: sender, logger: logger}
}

// Relay forwards one inbound game event according to its policy.
//
// Postcondition: The event is forwarded to its policy targets, or dropped
// with a log line. Shared state is never modified.
func (d *Dispatcher) Relay(senderID, event string, data map[string]any) {
	rule, ok := relayRules[event]
	if !ok {
		d.logger.Warn("dropping unknown event",
			zap.String("event", event),
			zap.String("sender", senderID),
		)
		return
	}

	room, ok := d.rooms.RoomOf(senderID)
	if !ok {
		d.logger.Debug("dropping event from roomless sender",
			zap.String("event", event),
			zap.String("sender", senderID),
		)
		return
	}

	isHost := room.HostID == senderID

	if rule.target == toHost {
		if isHost {
			// A host relaying a client-only event would deliver to itself.
			d.logger.Debug("dropping client event sent by host",
				zap.String("event", event),
				zap.String("sender", senderID),
				zap.String("room", room.ID),
			)
			return
		}
		d.sender.Send(room.HostID, deliveryName(event, rule), hostPayload(senderID, data, rule))
		return
	}

	if !isHost {
		d.logger.Debug("dropping host event from non-host",
			zap.String("event", event),
			zap.String("sender", senderID),
			zap.String("room", room.ID),
		)
		return
	}

	// The payload room id is cross-checked against the server-tracked room;
	// it is never trusted on its own.
	if declared, ok := data["roomId"].(string); ok && declared != room.ID {
		d.logger.Warn("dropping event with mismatched room id",
			zap.String("event", event),
			zap.String("sender", senderID),
			zap.String("declared", declared),
			zap.String("actual", room.ID),
		)
		return
	}

	for _, m := range room.Members {
		if rule.target == toOthers && m.ID == senderID {
			continue
		}
		d.sender.Send(m.ID, deliveryName(event, rule), data)
	}
}

func deliveryName(event string, rule relayRule) string {
	if rule.deliverAs != "" {
		return rule.deliverAs
	}
	return event
}

// hostPayload builds the payload delivered to the host for a client event:
// either the original data annotated with the sender's id, or the
// {"clientId": sender} wrapper for payload-free requests.
func hostPayload(senderID string, data map[string]any, rule relayRule) map[string]any {
	if rule.wrapClientID {
		return map[string]any{"clientId": senderID}
	}
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["id"] = senderID
	return out
}
