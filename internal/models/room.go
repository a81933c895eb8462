package models

import "github.com/google/uuid"

// RoomStatus mirrors the lobby-side lifecycle of a room. Room CRUD itself is
// owned by the room service; the game server only flips waiting -> playing ->
// finished around a race.
type RoomStatus string

const (
	RoomStatusWaiting  RoomStatus = "waiting"
	RoomStatusReady    RoomStatus = "ready"
	RoomStatusPlaying  RoomStatus = "playing"
	RoomStatusFinished RoomStatus = "finished"
)

// RoomPlayer is one roster entry as reported by the room provider.
type RoomPlayer struct {
	UserID   uuid.UUID `json:"userId"`
	Nickname string    `json:"nickname"`
	IsGuest  bool      `json:"isGuest"`
	IsReady  bool      `json:"isReady"`
}

// RoomInfo is the confirmed roster and sentence list handed to the coordinator
// at race creation.
type RoomInfo struct {
	RoomID        uuid.UUID    `json:"roomId"`
	RoomName      string       `json:"roomName"`
	HostID        uuid.UUID    `json:"hostId"`
	Status        RoomStatus   `json:"gameStatus"`
	Difficulty    Difficulty   `json:"difficulty"`
	Players       []RoomPlayer `json:"players"`
	Sentences     []Sentence   `json:"sentences"`
	SentenceCount int          `json:"sentenceCount"`
}
