package models

import (
	"time"

	"github.com/google/uuid"
)

// RaceStatus defines the lifecycle state of a race session.
type RaceStatus string

const (
	RaceStatusReady    RaceStatus = "ready"
	RaceStatusPlaying  RaceStatus = "playing"
	RaceStatusFinished RaceStatus = "finished"
)

// Difficulty grades a sentence.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Sentence is one entry of a race's fixed sentence sequence. Immutable after
// race creation.
type Sentence struct {
	Text       string     `json:"text"`
	Difficulty Difficulty `json:"difficulty"`
	Index      int        `json:"index"`
}

// Keystroke records a single typed character for the final game record. The
// keystroke log is never broadcast during a race.
type Keystroke struct {
	Character string    `json:"character"`
	IsCorrect bool      `json:"isCorrect"`
	Timestamp time.Time `json:"timestamp"`
}

// PlayerProgress tracks one player's state within a race session. The
// per-sentence counters (InputLength, CorrectCharacters, TotalCharacters)
// reset to zero every time CurrentSentenceIndex advances.
type PlayerProgress struct {
	UserID               uuid.UUID   `json:"userId"`
	Nickname             string      `json:"nickname"`
	CurrentSentenceIndex int         `json:"currentSentenceIndex"`
	InputLength          int         `json:"inputLength"`
	CorrectCharacters    int         `json:"correctCharacters"`
	TotalCharacters      int         `json:"totalCharacters"`
	CompletedSentences   int         `json:"completedSentences"`
	Progress             float64     `json:"progress"`
	WPM                  float64     `json:"wpm"`
	Accuracy             float64     `json:"accuracy"`
	IsFinished           bool        `json:"isFinished"`
	FinishTime           *time.Time  `json:"finishTime,omitempty"`
	Rank                 int         `json:"rank,omitempty"`
	IsWinner             bool        `json:"isWinner,omitempty"`
	IsGuest              bool        `json:"-"`
	Keystrokes           []Keystroke `json:"-"`
}

// RaceSession is the authoritative in-memory state of one room's race.
// Players are held in roster (join) order; ranking ties beyond the ordering
// criteria stay in this order.
type RaceSession struct {
	RoomID     uuid.UUID         `json:"roomId"`
	Status     RaceStatus        `json:"status"`
	Sentences  []Sentence        `json:"sentences"`
	Players    []*PlayerProgress `json:"players"`
	StartedAt  time.Time         `json:"startTime"`
	FinishedAt *time.Time        `json:"endTime,omitempty"`
}

// Player returns the progress entry for the given user, or nil if the user is
// not part of this race.
func (s *RaceSession) Player(userID uuid.UUID) *PlayerProgress {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// FinishedCount returns how many players have completed every sentence.
func (s *RaceSession) FinishedCount() int {
	n := 0
	for _, p := range s.Players {
		if p.IsFinished {
			n++
		}
	}
	return n
}

// AllFinished reports whether every player has completed the race.
func (s *RaceSession) AllFinished() bool {
	return s.FinishedCount() == len(s.Players)
}
