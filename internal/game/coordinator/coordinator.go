// Package coordinator drives a room's race through its lifecycle: countdown,
// sentence dispatch, progress ingestion, sentence advance and finish
// detection. All operations for one room are serialized behind a per-room
// lock; different rooms proceed in parallel.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/typosquad/typerace/internal/game/events"
	"github.com/typosquad/typerace/internal/game/metrics"
	"github.com/typosquad/typerace/internal/game/session"
	"github.com/typosquad/typerace/internal/models"
)

// Finalizer ranks a finished session, persists the race record and pushes
// aggregate stats. It returns the persisted record id, or nil when the write
// failed (the race still concluded at the protocol level).
type Finalizer interface {
	Finalize(ctx context.Context, sess *models.RaceSession) *uuid.UUID
}

// EventSink receives events produced outside a request, i.e. by the countdown
// timer and the idle reaper. Synchronous operations return their events to
// the caller instead.
type EventSink interface {
	Emit(evs ...events.Event)
}

// KeystrokeInput is a single typed key reported with a progress update.
type KeystrokeInput struct {
	Character string `json:"character"`
}

// Config holds coordinator timing knobs.
type Config struct {
	// Countdown is the delay between race creation and the first sentence.
	Countdown time.Duration
	// SessionTTL bounds how long a race can sit without activity before it
	// is torn down as abandoned.
	SessionTTL time.Duration
	// ReapInterval is how often idle sessions are checked.
	ReapInterval time.Duration
}

// DefaultConfig returns the default coordinator timings.
func DefaultConfig() Config {
	return Config{
		Countdown:    3 * time.Second,
		SessionTTL:   time.Hour,
		ReapInterval: time.Minute,
	}
}

// Coordinator owns every live RaceSession for the lifetime of its race.
type Coordinator struct {
	store     *session.Store
	finalizer Finalizer
	sink      EventSink
	clock     clockwork.Clock
	config    Config

	mu        sync.Mutex
	roomLocks map[uuid.UUID]*sync.Mutex
}

// New creates a coordinator. sink may be nil when no background emissions are
// wanted (tests drive Arm directly).
func New(store *session.Store, finalizer Finalizer, sink EventSink, clock clockwork.Clock, config Config) *Coordinator {
	return &Coordinator{
		store:     store,
		finalizer: finalizer,
		sink:      sink,
		clock:     clock,
		config:    config,
		roomLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// lockRoom serializes all operations for one room. Locks live for the process
// lifetime and are never dropped on teardown, so a stale update and a
// recreated race for the same room always contend on the same mutex; an
// update that wins the lock after removal finds no session and no-ops.
func (c *Coordinator) lockRoom(roomID uuid.UUID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		c.roomLocks[roomID] = l
	}
	return l
}

// Create constructs a RaceSession from the room's confirmed roster and
// sentence list, stores it in Ready state and schedules the countdown. The
// returned game-started event carries the full session snapshot.
func (c *Coordinator) Create(ctx context.Context, room *models.RoomInfo) ([]events.Event, error) {
	if err := validateRoom(room); err != nil {
		return nil, err
	}

	l := c.lockRoom(room.RoomID)
	l.Lock()
	defer l.Unlock()

	players := make([]*models.PlayerProgress, 0, len(room.Players))
	for _, rp := range room.Players {
		players = append(players, &models.PlayerProgress{
			UserID:   rp.UserID,
			Nickname: rp.Nickname,
			IsGuest:  rp.IsGuest,
			Accuracy: 100,
		})
	}

	now := c.clock.Now()
	sess := &models.RaceSession{
		RoomID:    room.RoomID,
		Status:    models.RaceStatusReady,
		Sentences: room.Sentences,
		Players:   players,
		StartedAt: now,
	}

	if err := c.store.Create(ctx, room.RoomID, sess); err != nil {
		return nil, err
	}

	log.Info().
		Str("room_id", room.RoomID.String()).
		Int("players", len(players)).
		Int("sentences", len(room.Sentences)).
		Msg("race created")

	c.clock.AfterFunc(c.config.Countdown, func() {
		evs := c.Arm(context.Background(), room.RoomID)
		if c.sink != nil && len(evs) > 0 {
			c.sink.Emit(evs...)
		}
	})

	return []events.Event{
		events.Broadcast(room.RoomID, events.EventTypeGameStarted, now, events.GameStartedPayload{
			Message:   "the race is starting",
			GameState: sess,
		}),
	}, nil
}

// Arm moves a Ready session to Playing after the countdown and dispatches the
// first sentence. If the session was cancelled or already started during the
// delay this is a no-op; it never resurrects a removed session.
func (c *Coordinator) Arm(ctx context.Context, roomID uuid.UUID) []events.Event {
	l := c.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.store.Get(roomID)
	if err != nil || sess.Status != models.RaceStatusReady {
		return nil
	}

	now := c.clock.Now()
	sess.Status = models.RaceStatusPlaying
	sess.StartedAt = now

	if err := c.store.Replace(ctx, roomID, sess); err != nil {
		return nil
	}

	log.Info().Str("room_id", roomID.String()).Msg("race armed")

	return []events.Event{
		events.Broadcast(roomID, events.EventTypeSentenceReady, now, events.SentencePayload{
			Sentence: sess.Sentences[0],
			Index:    0,
			Total:    len(sess.Sentences),
		}),
	}
}

// Progress ingests one typing-progress update. Stale or unknown events are
// silently ignored: the transport may reorder or drop messages and a late
// duplicate must not corrupt state. Exact input/target equality triggers the
// same advance path as an explicit completion signal so a dropped completion
// event cannot strand a player.
func (c *Coordinator) Progress(ctx context.Context, roomID, playerID uuid.UUID, sentenceIndex int, inputText string, keystroke *KeystrokeInput) []events.Event {
	l := c.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.store.Get(roomID)
	if err != nil || sess.Status != models.RaceStatusPlaying {
		return nil
	}
	p := sess.Player(playerID)
	if p == nil || p.IsFinished {
		return nil
	}
	if sentenceIndex != p.CurrentSentenceIndex || sentenceIndex >= len(sess.Sentences) {
		return nil
	}
	target := sess.Sentences[sentenceIndex]

	now := c.clock.Now()
	if keystroke != nil {
		// A keystroke is exactly one character; anything else is rejected,
		// not truncated.
		ch, size := utf8.DecodeRuneInString(keystroke.Character)
		if size > 0 && size == len(keystroke.Character) && ch != utf8.RuneError {
			p.Keystrokes = append(p.Keystrokes, models.Keystroke{
				Character: keystroke.Character,
				IsCorrect: metrics.KeystrokeCorrect(inputText, target.Text, ch),
				Timestamp: now,
			})
		}
	}

	p.InputLength = metrics.InputLength(inputText)
	p.TotalCharacters = p.InputLength
	p.CorrectCharacters = metrics.CountCorrect(inputText, target.Text)

	progress, err := metrics.Progress(p.InputLength, metrics.InputLength(target.Text))
	if err != nil {
		log.Error().Err(err).
			Str("room_id", roomID.String()).
			Int("sentence_index", sentenceIndex).
			Msg("invalid sentence in live race")
		return nil
	}
	p.Progress = progress
	p.WPM = metrics.WPM(p.CorrectCharacters, now.Sub(sess.StartedAt))
	p.Accuracy = metrics.Accuracy(p.CorrectCharacters, p.TotalCharacters)

	evs := []events.Event{c.progressBroadcast(sess, now)}

	if inputText == target.Text {
		evs = append(evs, c.advanceLocked(ctx, sess, p)...)
	}

	// The session may have been finalized and removed by the advance.
	if _, getErr := c.store.Get(roomID); getErr == nil {
		if err := c.store.Replace(ctx, roomID, sess); err != nil {
			log.Warn().Err(err).Str("room_id", roomID.String()).Msg("failed to replace session after progress")
		}
	}
	return evs
}

// CompleteSentence handles the explicit sentence-completed signal. Applying
// it twice for the same index is idempotent: the index guard rejects the
// second application.
func (c *Coordinator) CompleteSentence(ctx context.Context, roomID, playerID uuid.UUID, sentenceIndex int) []events.Event {
	l := c.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.store.Get(roomID)
	if err != nil || sess.Status != models.RaceStatusPlaying {
		return nil
	}
	p := sess.Player(playerID)
	if p == nil || p.IsFinished {
		return nil
	}
	if sentenceIndex != p.CurrentSentenceIndex {
		return nil
	}

	evs := c.advanceLocked(ctx, sess, p)

	if _, getErr := c.store.Get(roomID); getErr == nil {
		if err := c.store.Replace(ctx, roomID, sess); err != nil {
			log.Warn().Err(err).Str("room_id", roomID.String()).Msg("failed to replace session after advance")
		}
	}
	return evs
}

// advanceLocked moves the player to the next sentence and runs finish
// detection. Caller holds the room lock.
func (c *Coordinator) advanceLocked(ctx context.Context, sess *models.RaceSession, p *models.PlayerProgress) []events.Event {
	p.CompletedSentences++
	p.CurrentSentenceIndex++
	p.InputLength = 0
	p.CorrectCharacters = 0
	p.TotalCharacters = 0
	p.Progress = 0

	now := c.clock.Now()
	total := len(sess.Sentences)
	var evs []events.Event

	if p.CurrentSentenceIndex >= total {
		firstToFinish := sess.FinishedCount() == 0
		p.IsFinished = true
		t := now
		p.FinishTime = &t

		evs = append(evs,
			events.ToUser(sess.RoomID, p.UserID, events.EventTypePlayerFinished, now, events.PlayerFinishedPayload{
				Message:  fmt.Sprintf("%s finished the race", p.Nickname),
				IsWinner: firstToFinish,
			}),
			events.Broadcast(sess.RoomID, events.EventTypePlayerCompleted, now, events.PlayerCompletedPayload{
				UserID:   p.UserID,
				Nickname: p.Nickname,
				Rank:     sess.FinishedCount(),
			}),
		)

		log.Info().
			Str("room_id", sess.RoomID.String()).
			Str("user_id", p.UserID.String()).
			Int("completion_rank", sess.FinishedCount()).
			Msg("player finished race")
	} else {
		evs = append(evs, events.ToUser(sess.RoomID, p.UserID, events.EventTypeNextSentence, now, events.SentencePayload{
			Sentence: sess.Sentences[p.CurrentSentenceIndex],
			Index:    p.CurrentSentenceIndex,
			Total:    total,
		}))
	}

	if sess.AllFinished() {
		evs = append(evs, c.finishLocked(ctx, sess)...)
	}
	return evs
}

// finishLocked transitions the session to Finished exactly once, invokes the
// finalizer and evicts the session from the store. Caller holds the room lock.
func (c *Coordinator) finishLocked(ctx context.Context, sess *models.RaceSession) []events.Event {
	now := c.clock.Now()
	sess.Status = models.RaceStatusFinished
	t := now
	sess.FinishedAt = &t

	var recordID *uuid.UUID
	if c.finalizer != nil {
		recordID = c.finalizer.Finalize(ctx, sess)
	}

	results := make([]*models.PlayerProgress, len(sess.Players))
	copy(results, sess.Players)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Rank < results[j].Rank
	})

	c.store.Remove(ctx, sess.RoomID)

	log.Info().
		Str("room_id", sess.RoomID.String()).
		Bool("record_persisted", recordID != nil).
		Msg("race finished")

	return []events.Event{
		events.Broadcast(sess.RoomID, events.EventTypeGameFinished, now, events.GameFinishedPayload{
			Message:    "the race is over",
			Results:    results,
			GameRecord: recordID,
		}),
	}
}

// Cancel tears a session down without a result. It is safe to call
// concurrently with in-flight updates; whichever completes last wins, and a
// late update never recreates the removed session.
func (c *Coordinator) Cancel(ctx context.Context, roomID uuid.UUID) {
	l := c.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	if _, err := c.store.Get(roomID); err != nil {
		return
	}
	c.store.Remove(ctx, roomID)
	log.Info().Str("room_id", roomID.String()).Msg("race cancelled")
}

// Snapshot returns the live session for a room, if any.
func (c *Coordinator) Snapshot(roomID uuid.UUID) (*models.RaceSession, error) {
	return c.store.Get(roomID)
}

// Run reaps abandoned sessions until ctx is done. A session with no activity
// for longer than SessionTTL is cancelled without a result.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			for _, roomID := range c.store.IdleRooms(c.config.SessionTTL) {
				log.Warn().Str("room_id", roomID.String()).Msg("reaping abandoned race")
				c.Cancel(ctx, roomID)
			}
		}
	}
}

func validateRoom(room *models.RoomInfo) error {
	if len(room.Players) < 2 {
		return fmt.Errorf("coordinator: race needs at least 2 players, got %d", len(room.Players))
	}
	seen := make(map[uuid.UUID]struct{}, len(room.Players))
	for _, p := range room.Players {
		if _, dup := seen[p.UserID]; dup {
			return fmt.Errorf("coordinator: duplicate player %s in roster", p.UserID)
		}
		seen[p.UserID] = struct{}{}
	}
	if len(room.Sentences) < 1 {
		return fmt.Errorf("coordinator: race needs at least 1 sentence")
	}
	for _, s := range room.Sentences {
		if len(s.Text) == 0 {
			return fmt.Errorf("coordinator: sentence %d is empty", s.Index)
		}
	}
	return nil
}

func (c *Coordinator) progressBroadcast(sess *models.RaceSession, now time.Time) events.Event {
	views := make([]events.PlayerProgressView, 0, len(sess.Players))
	for _, p := range sess.Players {
		views = append(views, events.PlayerProgressView{
			UserID:               p.UserID,
			Nickname:             p.Nickname,
			Progress:             p.Progress,
			WPM:                  p.WPM,
			Accuracy:             p.Accuracy,
			CurrentSentenceIndex: p.CurrentSentenceIndex,
		})
	}
	return events.Broadcast(sess.RoomID, events.EventTypePlayersProgress, now, events.PlayersProgressPayload{Players: views})
}
