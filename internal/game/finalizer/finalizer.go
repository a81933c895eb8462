// Package finalizer turns a finished race session into a ranked, durable
// result: it orders players, persists the immutable game record and pushes
// per-player aggregate stats to the user service.
package finalizer

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/typosquad/typerace/internal/models"
)

// RecordRepository persists immutable race records. SaveGameRecord must be
// atomic: either the whole record is written or none of it.
type RecordRepository interface {
	SaveGameRecord(ctx context.Context, record *models.GameRecord) error
}

// StatsUpdater applies one player's race result to their aggregate stats.
type StatsUpdater interface {
	UpdateGameStats(ctx context.Context, update models.StatsUpdate) (*models.StatsResult, error)
}

// Publisher announces a persisted race record to downstream consumers
// (leaderboard aggregation lives outside this service).
type Publisher interface {
	PublishGameFinished(ctx context.Context, record *models.GameRecord) error
}

// Finalizer computes final rankings and persists race results.
type Finalizer struct {
	records   RecordRepository
	stats     StatsUpdater
	publisher Publisher
	clock     clockwork.Clock
}

// New creates a finalizer. stats and publisher may be nil; both are
// best-effort side channels.
func New(records RecordRepository, stats StatsUpdater, publisher Publisher, clock clockwork.Clock) *Finalizer {
	return &Finalizer{
		records:   records,
		stats:     stats,
		publisher: publisher,
		clock:     clock,
	}
}

// Rank orders the session's players by completed sentences, then WPM, then
// accuracy, all descending. Deeper ties keep roster order. Every player gets
// a final rank and the winner flag; any provisional completion-order rank is
// overwritten.
func Rank(players []*models.PlayerProgress) []*models.PlayerProgress {
	ranked := make([]*models.PlayerProgress, len(players))
	copy(ranked, players)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.CompletedSentences != b.CompletedSentences {
			return a.CompletedSentences > b.CompletedSentences
		}
		if a.WPM != b.WPM {
			return a.WPM > b.WPM
		}
		return a.Accuracy > b.Accuracy
	})
	for i, p := range ranked {
		p.Rank = i + 1
		p.IsWinner = i == 0
	}
	return ranked
}

// Finalize ranks the session, writes the race record and requests aggregate
// stat updates. It returns the persisted record id, or nil when persistence
// failed; the caller forwards that in the terminal broadcast either way.
func (f *Finalizer) Finalize(ctx context.Context, sess *models.RaceSession) *uuid.UUID {
	ranked := Rank(sess.Players)
	record := f.buildRecord(sess, ranked)

	if err := f.records.SaveGameRecord(ctx, record); err != nil {
		log.Error().Err(err).Str("room_id", sess.RoomID.String()).Msg("failed to persist game record")
		return nil
	}

	f.updateStats(ctx, ranked)

	if f.publisher != nil {
		if err := f.publisher.PublishGameFinished(ctx, record); err != nil {
			log.Warn().Err(err).Str("record_id", record.ID.String()).Msg("failed to publish game-finished event")
		}
	}

	log.Info().
		Str("room_id", sess.RoomID.String()).
		Str("record_id", record.ID.String()).
		Str("winner", record.Winner.String()).
		Msg("game record persisted")

	id := record.ID
	return &id
}

func (f *Finalizer) buildRecord(sess *models.RaceSession, ranked []*models.PlayerProgress) *models.GameRecord {
	results := make([]models.PlayerResult, 0, len(ranked))
	for _, p := range ranked {
		results = append(results, models.PlayerResult{
			UserID:             p.UserID,
			Nickname:           p.Nickname,
			FinalWPM:           p.WPM,
			FinalAccuracy:      p.Accuracy,
			CompletedSentences: p.CompletedSentences,
			TotalCharacters:    p.TotalCharacters,
			CorrectCharacters:  p.CorrectCharacters,
			Rank:               p.Rank,
			IsWinner:           p.IsWinner,
			FinishTime:         p.FinishTime,
			Keystrokes:         p.Keystrokes,
		})
	}

	finishedAt := f.clock.Now()
	if sess.FinishedAt != nil {
		finishedAt = *sess.FinishedAt
	}

	difficulty := models.DifficultyMedium
	if len(sess.Sentences) > 0 && sess.Sentences[0].Difficulty != "" {
		difficulty = sess.Sentences[0].Difficulty
	}

	return &models.GameRecord{
		ID:        uuid.New(),
		RoomID:    sess.RoomID,
		Players:   results,
		Sentences: sess.Sentences,
		Winner:    ranked[0].UserID,
		Settings: models.GameSettings{
			Difficulty:    difficulty,
			SentenceCount: len(sess.Sentences),
		},
		DurationMs: finishedAt.Sub(sess.StartedAt).Milliseconds(),
		StartedAt:  sess.StartedAt,
		FinishedAt: finishedAt,
	}
}

// updateStats pushes each player's aggregate update independently. One
// player's failure never blocks the others; guests carry no aggregates.
func (f *Finalizer) updateStats(ctx context.Context, ranked []*models.PlayerProgress) {
	if f.stats == nil {
		return
	}
	for _, p := range ranked {
		if p.IsGuest {
			continue
		}
		res, err := f.stats.UpdateGameStats(ctx, models.StatsUpdate{
			UserID:   p.UserID,
			WPM:      p.WPM,
			Accuracy: p.Accuracy,
			IsWinner: p.IsWinner,
		})
		if err != nil {
			log.Error().Err(err).Str("user_id", p.UserID.String()).Msg("failed to update player aggregate stats")
			continue
		}
		if res.LeveledUp {
			log.Info().
				Str("user_id", p.UserID.String()).
				Int("level", res.Level).
				Msg("player leveled up")
		}
	}
}
