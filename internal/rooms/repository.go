// Package rooms implements the room/roster collaborator consumed at race
// start. Room lifecycle CRUD (create/join/leave/ready) is owned by the lobby
// service; the game server only reads confirmed rosters and flips the room's
// game status around a race.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/typosquad/typerace/internal/models"
)

// ErrRoomNotFound is returned when no room exists for the id.
var ErrRoomNotFound = errors.New("rooms: room not found")

// Repository reads rooms for race creation.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rooms repository on the shared pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRoom returns the room's roster and prepared sentence list.
func (r *Repository) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.RoomInfo, error) {
	var (
		room             models.RoomInfo
		players, listing []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, room_name, host_id, game_status, difficulty, sentence_count, players, sentences
		FROM rooms WHERE id = $1`, roomID,
	).Scan(&room.RoomID, &room.RoomName, &room.HostID, &room.Status,
		&room.Difficulty, &room.SentenceCount, &players, &listing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}

	if err := json.Unmarshal(players, &room.Players); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room players: %w", err)
	}
	if err := json.Unmarshal(listing, &room.Sentences); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room sentences: %w", err)
	}
	return &room, nil
}

// UpdateStatus flips the room's lobby-side game status.
func (r *Repository) UpdateStatus(ctx context.Context, roomID uuid.UUID, status models.RoomStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rooms SET game_status = $2, updated_at = now() WHERE id = $1`,
		roomID, status)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}
