// Package session owns the authoritative in-memory state for every active
// race, keyed by room. An external mirror receives a best-effort copy of each
// mutation for crash recovery; the in-memory map stays the source of truth.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/typosquad/typerace/internal/models"
)

var (
	// ErrSessionExists is returned by Create when the room already has a live race.
	ErrSessionExists = errors.New("session: room already has an active race")
	// ErrSessionNotFound is returned when no live race exists for the room.
	ErrSessionNotFound = errors.New("session: no active race for room")
)

// Mirror receives copies of session mutations. Implementations must tolerate
// being handed the same key repeatedly; failures are logged by the store and
// never surfaced to callers.
type Mirror interface {
	Put(ctx context.Context, roomID uuid.UUID, sess *models.RaceSession) error
	Delete(ctx context.Context, roomID uuid.UUID) error
}

type entry struct {
	sess         *models.RaceSession
	lastActivity time.Time
}

// Store holds at most one live RaceSession per room.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
	mirror   Mirror
	now      func() time.Time
}

// NewStore creates a session store. mirror may be nil to disable mirroring.
func NewStore(mirror Mirror, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		sessions: make(map[uuid.UUID]*entry),
		mirror:   mirror,
		now:      now,
	}
}

// Create registers a new session for the room. Fails with ErrSessionExists if
// the room already has a live race.
func (s *Store) Create(ctx context.Context, roomID uuid.UUID, sess *models.RaceSession) error {
	s.mu.Lock()
	if _, ok := s.sessions[roomID]; ok {
		s.mu.Unlock()
		return ErrSessionExists
	}
	s.sessions[roomID] = &entry{sess: sess, lastActivity: s.now()}
	s.mu.Unlock()

	s.mirrorPut(ctx, roomID, sess)
	return nil
}

// Get returns the live session for the room.
func (s *Store) Get(roomID uuid.UUID) (*models.RaceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[roomID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.sess, nil
}

// Replace swaps the stored session and refreshes the activity timestamp.
func (s *Store) Replace(ctx context.Context, roomID uuid.UUID, sess *models.RaceSession) error {
	s.mu.Lock()
	e, ok := s.sessions[roomID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	e.sess = sess
	e.lastActivity = s.now()
	s.mu.Unlock()

	s.mirrorPut(ctx, roomID, sess)
	return nil
}

// Remove drops the session. Removing an absent room is a no-op so teardown is
// safe to call concurrently with in-flight updates.
func (s *Store) Remove(ctx context.Context, roomID uuid.UUID) {
	s.mu.Lock()
	_, ok := s.sessions[roomID]
	delete(s.sessions, roomID)
	s.mu.Unlock()

	if ok && s.mirror != nil {
		if err := s.mirror.Delete(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("room_id", roomID.String()).Msg("session mirror delete failed")
		}
	}
}

// IdleRooms returns rooms whose last mutation is older than maxIdle.
func (s *Store) IdleRooms(maxIdle time.Duration) []uuid.UUID {
	cutoff := s.now().Add(-maxIdle)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var idle []uuid.UUID
	for roomID, e := range s.sessions {
		if e.lastActivity.Before(cutoff) {
			idle = append(idle, roomID)
		}
	}
	return idle
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) mirrorPut(ctx context.Context, roomID uuid.UUID, sess *models.RaceSession) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Put(ctx, roomID, sess); err != nil {
		log.Warn().Err(err).Str("room_id", roomID.String()).Msg("session mirror write failed")
	}
}
