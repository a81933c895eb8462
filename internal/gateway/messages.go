package gateway

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/typosquad/typerace/internal/game/coordinator"
)

// MessageType identifies an inbound client message.
type MessageType string

const (
	MessageTypeJoinRoom          MessageType = "join-room"
	MessageTypeStartGame         MessageType = "start-game"
	MessageTypeTypingProgress    MessageType = "typing-progress"
	MessageTypeSentenceCompleted MessageType = "sentence-completed"
	MessageTypeLeaveRoom         MessageType = "leave-room"
)

// InboundMessage is the envelope for every client frame.
type InboundMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JoinRoomPayload subscribes the connection to a room.
type JoinRoomPayload struct {
	RoomID uuid.UUID `json:"roomId"`
}

// StartGamePayload triggers race creation; only the room host may send it.
type StartGamePayload struct {
	RoomID uuid.UUID `json:"roomId"`
}

// TypingProgressPayload reports the player's current input buffer.
type TypingProgressPayload struct {
	RoomID        uuid.UUID                   `json:"roomId"`
	SentenceIndex int                         `json:"sentenceIndex"`
	InputText     string                      `json:"inputText"`
	Keystroke     *coordinator.KeystrokeInput `json:"keystroke,omitempty"`
}

// SentenceCompletedPayload is the explicit completion signal.
type SentenceCompletedPayload struct {
	RoomID        uuid.UUID `json:"roomId"`
	SentenceIndex int       `json:"sentenceIndex"`
}
