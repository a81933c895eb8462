// Package events defines the outbound messages the coordinator yields to the
// transport layer. The coordinator never talks to a socket directly; each
// operation returns a batch of events and the gateway fans them out, which
// keeps the game logic testable without a transport dependency.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType identifies an outbound game event. Values double as the wire
// message type seen by clients.
type EventType string

const (
	EventTypeGameStarted     EventType = "game-started"
	EventTypeSentenceReady   EventType = "sentence-ready"
	EventTypePlayersProgress EventType = "players-progress"
	EventTypeNextSentence    EventType = "next-sentence"
	EventTypePlayerCompleted EventType = "player-completed"
	EventTypePlayerFinished  EventType = "player-finished"
	EventTypeGameFinished    EventType = "game-finished"
	EventTypeRoomJoined      EventType = "room-joined"
	EventTypeGameState       EventType = "game-state"
	EventTypeError           EventType = "error"
)

// Event is the envelope for one outbound message. A zero TargetUserID means
// broadcast to every connection in the room; otherwise the event is delivered
// to that user only.
type Event struct {
	ID           string          `json:"id"`
	RoomID       uuid.UUID       `json:"roomId"`
	Type         EventType       `json:"type"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data"`
	TargetUserID uuid.UUID       `json:"-"`
}

// Private reports whether the event targets a single user.
func (e Event) Private() bool {
	return e.TargetUserID != uuid.Nil
}

// Broadcast builds a room-wide event with a JSON-encoded payload.
func Broadcast(roomID uuid.UUID, typ EventType, now time.Time, payload any) Event {
	return Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      typ,
		Timestamp: now,
		Data:      marshal(typ, payload),
	}
}

// ToUser builds an event delivered to a single user in the room.
func ToUser(roomID, userID uuid.UUID, typ EventType, now time.Time, payload any) Event {
	ev := Broadcast(roomID, typ, now, payload)
	ev.TargetUserID = userID
	return ev
}

func marshal(typ EventType, payload any) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain structs; this only fires on a programming error.
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to marshal event payload")
		return json.RawMessage(`{}`)
	}
	return data
}
