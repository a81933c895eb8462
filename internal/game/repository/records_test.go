package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typosquad/typerace/internal/models"
	"github.com/typosquad/typerace/internal/testsupport/tcpostgres"
)

func sampleRecord() *models.GameRecord {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	winner := models.PlayerResult{
		UserID:             uuid.New(),
		Nickname:           "winner",
		FinalWPM:           92.5,
		FinalAccuracy:      98.1,
		CompletedSentences: 3,
		TotalCharacters:    60,
		CorrectCharacters:  59,
		Rank:               1,
		IsWinner:           true,
		FinishTime:         &finished,
		Keystrokes: []models.Keystroke{
			{Character: "h", IsCorrect: true, Timestamp: started.Add(time.Second)},
			{Character: "a", IsCorrect: false, Timestamp: started.Add(2 * time.Second)},
		},
	}
	second := models.PlayerResult{
		UserID:             uuid.New(),
		Nickname:           "second",
		FinalWPM:           71.0,
		FinalAccuracy:      95.0,
		CompletedSentences: 3,
		Rank:               2,
	}
	third := models.PlayerResult{
		UserID:             uuid.New(),
		Nickname:           "third",
		FinalWPM:           44.2,
		FinalAccuracy:      90.3,
		CompletedSentences: 2,
		Rank:               3,
	}

	return &models.GameRecord{
		ID:     uuid.New(),
		RoomID: uuid.New(),
		// Deliberately out of rank order; the re-read must sort.
		Players: []models.PlayerResult{second, third, winner},
		Sentences: []models.Sentence{
			{Text: "hello world", Difficulty: models.DifficultyMedium, Index: 0},
			{Text: "typing fast", Difficulty: models.DifficultyMedium, Index: 1},
			{Text: "one more", Difficulty: models.DifficultyMedium, Index: 2},
		},
		Winner: winner.UserID,
		Settings: models.GameSettings{
			Difficulty:    models.DifficultyMedium,
			SentenceCount: 3,
		},
		DurationMs: 90_000,
		StartedAt:  started,
		FinishedAt: finished,
	}
}

func TestGameRecordRoundTrip(t *testing.T) {
	pool := tcpostgres.SetupTestDb()
	defer pool.Close()
	tcpostgres.ClearGameTables(pool)

	ctx := context.Background()
	repo := NewRecordRepository(pool)

	record := sampleRecord()
	require.NoError(t, repo.SaveGameRecord(ctx, record))

	got, err := repo.GetGameRecord(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, record.RoomID, got.RoomID)
	assert.Equal(t, record.Winner, got.Winner)
	assert.Equal(t, record.Sentences, got.Sentences)
	assert.Equal(t, record.Settings, got.Settings)
	assert.Equal(t, record.DurationMs, got.DurationMs)
	assert.WithinDuration(t, record.StartedAt, got.StartedAt, time.Millisecond)
	assert.WithinDuration(t, record.FinishedAt, got.FinishedAt, time.Millisecond)

	// Players come back ordered by final rank regardless of insert order, and
	// the winner is the rank-1 player.
	require.Len(t, got.Players, 3)
	for i, p := range got.Players {
		assert.Equal(t, i+1, p.Rank)
	}
	assert.Equal(t, got.Winner, got.Players[0].UserID)
	assert.True(t, got.Players[0].IsWinner)
	assert.False(t, got.Players[1].IsWinner)

	first := got.Players[0]
	assert.Equal(t, "winner", first.Nickname)
	assert.Equal(t, 92.5, first.FinalWPM)
	assert.Equal(t, 98.1, first.FinalAccuracy)
	assert.Equal(t, 3, first.CompletedSentences)
	assert.Equal(t, 60, first.TotalCharacters)
	assert.Equal(t, 59, first.CorrectCharacters)
	require.NotNil(t, first.FinishTime)
	assert.WithinDuration(t, record.FinishedAt, *first.FinishTime, time.Millisecond)
	require.Len(t, first.Keystrokes, 2)
	assert.Equal(t, "h", first.Keystrokes[0].Character)
	assert.True(t, first.Keystrokes[0].IsCorrect)
	assert.False(t, first.Keystrokes[1].IsCorrect)
}

func TestGetGameRecordMissing(t *testing.T) {
	pool := tcpostgres.SetupTestDb()
	defer pool.Close()

	repo := NewRecordRepository(pool)
	_, err := repo.GetGameRecord(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestSaveGameRecordIsAtomic(t *testing.T) {
	pool := tcpostgres.SetupTestDb()
	defer pool.Close()
	tcpostgres.ClearGameTables(pool)

	ctx := context.Background()
	repo := NewRecordRepository(pool)

	record := sampleRecord()
	// Duplicate player rows violate the primary key mid-transaction.
	record.Players = append(record.Players, record.Players[0])
	require.Error(t, repo.SaveGameRecord(ctx, record))

	// Nothing from the failed save is visible.
	_, err := repo.GetGameRecord(ctx, record.ID)
	assert.Error(t, err)
}
