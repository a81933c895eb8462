// Package repository persists immutable race records in Postgres.
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/typosquad/typerace/internal/models"
)

// RecordRepository reads and writes game records through a pgx pool.
type RecordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository creates a record repository on the shared pool.
func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// SaveGameRecord writes the record and all player rows in one transaction so
// a partial record can never be observed.
func (r *RecordRepository) SaveGameRecord(ctx context.Context, record *models.GameRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sentences, err := json.Marshal(record.Sentences)
	if err != nil {
		return fmt.Errorf("failed to marshal sentences: %w", err)
	}
	settings, err := json.Marshal(record.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal game settings: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO game_records (id, room_id, winner_id, sentences, settings, duration_ms, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.RoomID, record.Winner, sentences, settings,
		record.DurationMs, record.StartedAt, record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert game record: %w", err)
	}

	for _, p := range record.Players {
		keystrokes, err := json.Marshal(p.Keystrokes)
		if err != nil {
			return fmt.Errorf("failed to marshal keystrokes for %s: %w", p.UserID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO game_record_players
				(record_id, user_id, nickname, final_wpm, final_accuracy, completed_sentences,
				 total_characters, correct_characters, rank, is_winner, finish_time, keystrokes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			record.ID, p.UserID, p.Nickname, p.FinalWPM, p.FinalAccuracy, p.CompletedSentences,
			p.TotalCharacters, p.CorrectCharacters, p.Rank, p.IsWinner, p.FinishTime, keystrokes,
		)
		if err != nil {
			return fmt.Errorf("failed to insert player result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit game record: %w", err)
	}
	return nil
}

// GetGameRecord re-reads a persisted record, players ordered by final rank.
func (r *RecordRepository) GetGameRecord(ctx context.Context, id uuid.UUID) (*models.GameRecord, error) {
	record := &models.GameRecord{ID: id}
	var sentences, settings []byte

	err := r.pool.QueryRow(ctx, `
		SELECT room_id, winner_id, sentences, settings, duration_ms, started_at, finished_at
		FROM game_records WHERE id = $1`, id,
	).Scan(&record.RoomID, &record.Winner, &sentences, &settings,
		&record.DurationMs, &record.StartedAt, &record.FinishedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("game record %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("failed to get game record: %w", err)
	}

	if err := json.Unmarshal(sentences, &record.Sentences); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sentences: %w", err)
	}
	if err := json.Unmarshal(settings, &record.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game settings: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT user_id, nickname, final_wpm, final_accuracy, completed_sentences,
		       total_characters, correct_characters, rank, is_winner, finish_time, keystrokes
		FROM game_record_players WHERE record_id = $1 ORDER BY rank`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query player results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.PlayerResult
		var keystrokes []byte
		if err := rows.Scan(&p.UserID, &p.Nickname, &p.FinalWPM, &p.FinalAccuracy,
			&p.CompletedSentences, &p.TotalCharacters, &p.CorrectCharacters,
			&p.Rank, &p.IsWinner, &p.FinishTime, &keystrokes); err != nil {
			return nil, fmt.Errorf("failed to scan player result: %w", err)
		}
		if err := json.Unmarshal(keystrokes, &p.Keystrokes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keystrokes: %w", err)
		}
		record.Players = append(record.Players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read player results: %w", err)
	}

	return record, nil
}
