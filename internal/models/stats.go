package models

import "github.com/google/uuid"

// StatsUpdate is one player's race result applied to their aggregate stats.
type StatsUpdate struct {
	UserID   uuid.UUID `json:"userId"`
	WPM      float64   `json:"wpm"`
	Accuracy float64   `json:"accuracy"`
	IsWinner bool      `json:"isWinner"`
}

// StatsResult reports the outcome of an aggregate-stats update.
type StatsResult struct {
	ExpGained int  `json:"expGained"`
	LeveledUp bool `json:"leveledUp"`
	Level     int  `json:"level"`
}

// Identity is a resolved connection credential.
type Identity struct {
	UserID   uuid.UUID `json:"userId"`
	Nickname string    `json:"nickname"`
	IsGuest  bool      `json:"isGuest"`
}
