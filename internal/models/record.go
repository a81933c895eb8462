package models

import (
	"time"

	"github.com/google/uuid"
)

// PlayerResult is one player's final snapshot inside an immutable game record.
type PlayerResult struct {
	UserID             uuid.UUID   `json:"userId"`
	Nickname           string      `json:"nickname"`
	FinalWPM           float64     `json:"finalWpm"`
	FinalAccuracy      float64     `json:"finalAccuracy"`
	CompletedSentences int         `json:"completedSentences"`
	TotalCharacters    int         `json:"totalCharacters"`
	CorrectCharacters  int         `json:"correctCharacters"`
	Rank               int         `json:"rank"`
	IsWinner           bool        `json:"isWinner"`
	FinishTime         *time.Time  `json:"finishTime,omitempty"`
	Keystrokes         []Keystroke `json:"keystrokes"`
}

// GameSettings captures the race configuration persisted with a record.
type GameSettings struct {
	Difficulty    Difficulty `json:"difficulty"`
	SentenceCount int        `json:"sentenceCount"`
}

// GameRecord is the immutable persisted result of a finished race.
type GameRecord struct {
	ID         uuid.UUID      `json:"id"`
	RoomID     uuid.UUID      `json:"roomId"`
	Players    []PlayerResult `json:"players"`
	Sentences  []Sentence     `json:"sentences"`
	Winner     uuid.UUID      `json:"winner"`
	Settings   GameSettings   `json:"gameSettings"`
	DurationMs int64          `json:"durationMs"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}
