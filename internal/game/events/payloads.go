package events

import (
	"github.com/google/uuid"

	"github.com/typosquad/typerace/internal/models"
)

// GameStartedPayload carries the full session snapshot emitted at creation,
// before the countdown elapses.
type GameStartedPayload struct {
	Message   string              `json:"message"`
	GameState *models.RaceSession `json:"gameState"`
}

// SentencePayload dispatches one sentence to type. Broadcast for the first
// sentence (sentence-ready), per-player afterwards (next-sentence).
type SentencePayload struct {
	Sentence models.Sentence `json:"sentence"`
	Index    int             `json:"index"`
	Total    int             `json:"total"`
}

// PlayerProgressView is the public projection of one player's live state.
// Keystroke logs and raw counters never leave the coordinator.
type PlayerProgressView struct {
	UserID               uuid.UUID `json:"userId"`
	Nickname             string    `json:"nickname"`
	Progress             float64   `json:"progress"`
	WPM                  float64   `json:"wpm"`
	Accuracy             float64   `json:"accuracy"`
	CurrentSentenceIndex int       `json:"currentSentenceIndex"`
}

// PlayersProgressPayload is broadcast after every accepted progress update.
type PlayersProgressPayload struct {
	Players []PlayerProgressView `json:"players"`
}

// PlayerCompletedPayload announces a player crossing the finish line. Rank is
// completion order, provisional until the finalizer assigns the metric-based
// ranking.
type PlayerCompletedPayload struct {
	UserID   uuid.UUID `json:"userId"`
	Nickname string    `json:"nickname"`
	Rank     int       `json:"rank"`
}

// PlayerFinishedPayload is the private notice sent to the finishing player.
type PlayerFinishedPayload struct {
	Message  string `json:"message"`
	IsWinner bool   `json:"isWinner"`
}

// GameFinishedPayload is the terminal broadcast. GameRecord is nil when the
// race record could not be persisted; the race still concluded.
type GameFinishedPayload struct {
	Message    string                   `json:"message"`
	Results    []*models.PlayerProgress `json:"results"`
	GameRecord *uuid.UUID               `json:"gameRecord"`
}

// RoomJoinedPayload replies to join-room when no race is live yet.
type RoomJoinedPayload struct {
	Room *models.RoomInfo `json:"room"`
}

// ErrorPayload is delivered to a single sender, never broadcast.
type ErrorPayload struct {
	Message string `json:"message"`
}
