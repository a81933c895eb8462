// Package users implements the user-facing collaborators the game server
// consumes: aggregate stat updates after a race and token-based identity
// resolution for incoming connections. Account management itself lives in a
// separate service.
package users

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/typosquad/typerace/internal/models"
)

const (
	baseExp         = 10
	winExp          = 50
	fastExp         = 20
	fastWPM         = 60
	preciseExp      = 15
	preciseAccuracy = 95
	expPerLevel     = 1000
)

// StatsRepository applies race results to per-user aggregate stats.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a stats repository on the shared pool.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// UpdateGameStats folds one race result into the user's aggregates under a
// row lock: game counts, best WPM, running average accuracy, experience and
// level. Guest accounts carry no aggregates and are skipped.
func (r *StatsRepository) UpdateGameStats(ctx context.Context, update models.StatsUpdate) (*models.StatsResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		totalGames, wins, level, experience int
		bestWPM, averageAccuracy            float64
		isGuest                             bool
	)
	err = tx.QueryRow(ctx, `
		SELECT total_games, wins, best_wpm, average_accuracy, level, experience, is_guest
		FROM users WHERE id = $1 FOR UPDATE`, update.UserID,
	).Scan(&totalGames, &wins, &bestWPM, &averageAccuracy, &level, &experience, &isGuest)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", update.UserID, err)
	}

	if isGuest {
		log.Debug().Str("user_id", update.UserID.String()).Msg("skipping stats update for guest")
		return &models.StatsResult{Level: level}, nil
	}

	totalGames++
	if update.IsWinner {
		wins++
	}
	if update.WPM > bestWPM {
		bestWPM = update.WPM
	}
	averageAccuracy = math.Round((averageAccuracy*float64(totalGames-1) + update.Accuracy) / float64(totalGames))

	expGained := baseExp
	if update.IsWinner {
		expGained += winExp
	}
	if update.WPM > fastWPM {
		expGained += fastExp
	}
	if update.Accuracy > preciseAccuracy {
		expGained += preciseExp
	}

	experience += expGained
	newLevel := experience/expPerLevel + 1
	leveledUp := newLevel > level
	if leveledUp {
		level = newLevel
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET total_games = $2, wins = $3, best_wpm = $4, average_accuracy = $5,
		    level = $6, experience = $7, last_active_at = now()
		WHERE id = $1`,
		update.UserID, totalGames, wins, bestWPM, averageAccuracy, level, experience,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update user %s: %w", update.UserID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stats update: %w", err)
	}

	return &models.StatsResult{
		ExpGained: expGained,
		LeveledUp: leveledUp,
		Level:     level,
	}, nil
}
