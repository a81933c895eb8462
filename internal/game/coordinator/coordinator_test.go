package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typosquad/typerace/internal/game/events"
	"github.com/typosquad/typerace/internal/game/finalizer"
	"github.com/typosquad/typerace/internal/game/session"
	"github.com/typosquad/typerace/internal/models"
)

type fakeFinalizer struct {
	calls    int
	recordID uuid.UUID
}

func (f *fakeFinalizer) Finalize(ctx context.Context, sess *models.RaceSession) *uuid.UUID {
	f.calls++
	finalizer.Rank(sess.Players)
	id := f.recordID
	return &id
}

type chanSink struct {
	evs chan events.Event
}

func (s *chanSink) Emit(evs ...events.Event) {
	for _, ev := range evs {
		s.evs <- ev
	}
}

func testRoom(playerIDs []uuid.UUID, texts ...string) *models.RoomInfo {
	sentences := make([]models.Sentence, 0, len(texts))
	for i, t := range texts {
		sentences = append(sentences, models.Sentence{Text: t, Difficulty: models.DifficultyEasy, Index: i})
	}
	players := make([]models.RoomPlayer, 0, len(playerIDs))
	for i, id := range playerIDs {
		players = append(players, models.RoomPlayer{
			UserID:   id,
			Nickname: string(rune('a' + i)),
			IsReady:  true,
		})
	}
	return &models.RoomInfo{
		RoomID:        uuid.New(),
		RoomName:      "test room",
		HostID:        playerIDs[0],
		Status:        models.RoomStatusWaiting,
		Difficulty:    models.DifficultyEasy,
		Players:       players,
		Sentences:     sentences,
		SentenceCount: len(sentences),
	}
}

func newTestCoordinator(t *testing.T, fc clockwork.Clock, sink EventSink) (*Coordinator, *session.Store, *fakeFinalizer) {
	t.Helper()
	store := session.NewStore(nil, fc.Now)
	fin := &fakeFinalizer{recordID: uuid.New()}
	return New(store, fin, sink, fc, DefaultConfig()), store, fin
}

func eventTypes(evs []events.Event) []events.EventType {
	types := make([]events.EventType, 0, len(evs))
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	return types
}

func findEvent(t *testing.T, evs []events.Event, typ events.EventType) events.Event {
	t.Helper()
	for _, ev := range evs {
		if ev.Type == typ {
			return ev
		}
	}
	t.Fatalf("no %s event in %v", typ, eventTypes(evs))
	return events.Event{}
}

func decodePayload[T any](t *testing.T, ev events.Event) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	return payload
}

func TestRaceLifecycle(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, _, fin := newTestCoordinator(t, fc, nil)

	alice := uuid.New()
	bob := uuid.New()
	room := testRoom([]uuid.UUID{alice, bob}, "hello")

	evs, err := coord.Create(ctx, room)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventTypeGameStarted, evs[0].Type)
	assert.False(t, evs[0].Private())

	sess, err := coord.Snapshot(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusReady, sess.Status)

	evs = coord.Arm(ctx, room.RoomID)
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventTypeSentenceReady, evs[0].Type)
	first := decodePayload[events.SentencePayload](t, evs[0])
	assert.Equal(t, "hello", first.Sentence.Text)
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 1, first.Total)

	// One minute in, alice has typed the first two characters.
	fc.Advance(time.Minute)
	evs = coord.Progress(ctx, room.RoomID, alice, 0, "he", nil)
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventTypePlayersProgress, evs[0].Type)

	sess, err = coord.Snapshot(room.RoomID)
	require.NoError(t, err)
	p := sess.Player(alice)
	assert.Equal(t, 40.0, p.Progress)
	assert.Equal(t, 100.0, p.Accuracy)
	assert.Equal(t, 2, p.CorrectCharacters)

	// Full match advances alice past her only sentence.
	evs = coord.Progress(ctx, room.RoomID, alice, 0, "hello", nil)
	types := eventTypes(evs)
	assert.Contains(t, types, events.EventTypePlayersProgress)

	finished := findEvent(t, evs, events.EventTypePlayerFinished)
	assert.True(t, finished.Private())
	assert.Equal(t, alice, finished.TargetUserID)
	assert.True(t, decodePayload[events.PlayerFinishedPayload](t, finished).IsWinner)

	completed := findEvent(t, evs, events.EventTypePlayerCompleted)
	assert.False(t, completed.Private())
	assert.Equal(t, 1, decodePayload[events.PlayerCompletedPayload](t, completed).Rank)

	sess, err = coord.Snapshot(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sess.Player(alice).WPM)
	assert.False(t, sess.AllFinished())

	// Bob's explicit completion signal finishes the race.
	evs = coord.CompleteSentence(ctx, room.RoomID, bob, 0)

	finished = findEvent(t, evs, events.EventTypePlayerFinished)
	assert.Equal(t, bob, finished.TargetUserID)
	assert.False(t, decodePayload[events.PlayerFinishedPayload](t, finished).IsWinner)

	final := findEvent(t, evs, events.EventTypeGameFinished)
	payload := decodePayload[events.GameFinishedPayload](t, final)
	require.NotNil(t, payload.GameRecord)
	assert.Equal(t, fin.recordID, *payload.GameRecord)
	require.Len(t, payload.Results, 2)
	assert.Equal(t, alice, payload.Results[0].UserID)
	assert.Equal(t, 1, payload.Results[0].Rank)
	assert.True(t, payload.Results[0].IsWinner)
	assert.Equal(t, bob, payload.Results[1].UserID)
	assert.Equal(t, 2, payload.Results[1].Rank)

	assert.Equal(t, 1, fin.calls)

	// Session is evicted once the race concludes.
	_, err = coord.Snapshot(room.RoomID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestProgressStaleOrUnknownIgnored(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, _, _ := newTestCoordinator(t, fc, nil)

	alice := uuid.New()
	bob := uuid.New()
	room := testRoom([]uuid.UUID{alice, bob}, "hello", "world")

	_, err := coord.Create(ctx, room)
	require.NoError(t, err)
	coord.Arm(ctx, room.RoomID)

	// Wrong sentence index.
	assert.Empty(t, coord.Progress(ctx, room.RoomID, alice, 1, "wor", nil))
	// Unknown player.
	assert.Empty(t, coord.Progress(ctx, room.RoomID, uuid.New(), 0, "he", nil))
	// Unknown room.
	assert.Empty(t, coord.Progress(ctx, uuid.New(), alice, 0, "he", nil))

	sess, err := coord.Snapshot(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Player(alice).InputLength)
}

func TestProgressBeforeArmIgnored(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, _, _ := newTestCoordinator(t, fc, nil)

	alice := uuid.New()
	room := testRoom([]uuid.UUID{alice, uuid.New()}, "hello")

	_, err := coord.Create(ctx, room)
	require.NoError(t, err)

	assert.Empty(t, coord.Progress(ctx, room.RoomID, alice, 0, "he", nil))
}

func TestCompleteSentenceIdempotent(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, _, _ := newTestCoordinator(t, fc, nil)

	alice := uuid.New()
	room := testRoom([]uuid.UUID{alice, uuid.New()}, "hello", "world")

	_, err := coord.Create(ctx, room)
	require.NoError(t, err)
	coord.Arm(ctx, room.RoomID)

	evs := coord.CompleteSentence(ctx, room.RoomID, alice, 0)
	next := findEvent(t, evs, events.EventTypeNextSentence)
	assert.Equal(t, 1, decodePayload[events.SentencePayload](t, next).Index)

	// A duplicate of the same signal is rejected by the index guard.
	assert.Empty(t, coord.CompleteSentence(ctx, room.RoomID, alice, 0))

	sess, err := coord.Snapshot(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Player(alice).CompletedSentences)
	assert.Equal(t, 1, sess.Player(alice).CurrentSentenceIndex)
}

func TestDualTriggerDoesNotDoubleAdvance(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, _, _ := newTestCoordinator(t, fc, nil)

	alice := uuid.New()
	room := testRoom([]uuid.UUID{alice, uuid.New()}, "hello", "world")

	_, err := coord.Create(ctx, room)
	require.NoError(t, err)
	coord.Arm(ctx, room.RoomID)

	// Exact match advances; the explicit signal for the same index that the
	// client sends right after must be a no-op.
	coord.Progress(ctx, room.RoomID, alice, 0, "hello", nil)
	assert.Empty(t, coord.CompleteSentence(ctx, room.RoomID, alice, 0))

	sess, err := coord.Snapshot(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Player(alice).CompletedSentences)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, _, _ := newTestCoordinator(t, fc, nil)

	alice := uuid.New()

	solo := testRoom([]uuid.UUID{alice}, "hello")
	_, err := coord.Create(ctx, solo)
	assert.Error(t, err)

	dup := testRoom([]uuid.UUID{alice, alice}, "hello")
	_, err = coord.Create(ctx, dup)
	assert.Error(t, err)

	empty := testRoom([]uuid.UUID{alice, uuid.New()})
	_, err = coord.Create(ctx, empty)
	assert.Error(t, err)
}

func TestCreateRejectsDuplicateRace(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, _, _ := newTestCoordinator(t, fc, nil)

	room := testRoom([]uuid.UUID{uuid.New(), uuid.New()}, "hello")

	_, err := coord.Create(ctx, room)
	require.NoError(t, err)

	_, err = coord.Create(ctx, room)
	assert.ErrorIs(t, err, session.ErrSessionExists)
}

func TestArmAfterCancelIsNoOp(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, store, _ := newTestCoordinator(t, fc, nil)

	room := testRoom([]uuid.UUID{uuid.New(), uuid.New()}, "hello")

	_, err := coord.Create(ctx, room)
	require.NoError(t, err)

	coord.Cancel(ctx, room.RoomID)
	assert.Equal(t, 0, store.Len())

	// The countdown timer fires into a cancelled race.
	assert.Empty(t, coord.Arm(ctx, room.RoomID))
	assert.Equal(t, 0, store.Len())
}

func TestCountdownEmitsThroughSink(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	sink := &chanSink{evs: make(chan events.Event, 8)}
	coord, _, _ := newTestCoordinator(t, fc, sink)

	room := testRoom([]uuid.UUID{uuid.New(), uuid.New()}, "hello")

	_, err := coord.Create(ctx, room)
	require.NoError(t, err)

	fc.Advance(DefaultConfig().Countdown)

	select {
	case ev := <-sink.evs:
		assert.Equal(t, events.EventTypeSentenceReady, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no sentence-ready event after countdown")
	}

	sess, err := coord.Snapshot(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusPlaying, sess.Status)
}

func TestReaperCancelsIdleRace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc := clockwork.NewFakeClock()
	store := session.NewStore(nil, fc.Now)
	coord := New(store, nil, nil, fc, Config{
		Countdown:    time.Second,
		SessionTTL:   time.Hour,
		ReapInterval: time.Minute,
	})

	roomID := uuid.New()
	require.NoError(t, store.Create(ctx, roomID, &models.RaceSession{
		RoomID:    roomID,
		Status:    models.RaceStatusPlaying,
		Sentences: []models.Sentence{{Text: "hello"}},
		StartedAt: fc.Now(),
	}))

	go coord.Run(ctx)
	fc.BlockUntil(1)

	fc.Advance(time.Hour + 2*time.Minute)

	require.Eventually(t, func() bool {
		return store.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomLockRetainedAfterCancel(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, _, _ := newTestCoordinator(t, fc, nil)

	room := testRoom([]uuid.UUID{uuid.New(), uuid.New()}, "hello")
	_, err := coord.Create(ctx, room)
	require.NoError(t, err)

	l := coord.lockRoom(room.RoomID)
	coord.Cancel(ctx, room.RoomID)

	// A re-created race must contend on the same mutex as any update still
	// blocked from the previous race.
	_, err = coord.Create(ctx, room)
	require.NoError(t, err)
	assert.Same(t, l, coord.lockRoom(room.RoomID))
}

func TestRoomLockRetainedAfterFinish(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, _, _ := newTestCoordinator(t, fc, nil)

	alice := uuid.New()
	bob := uuid.New()
	room := testRoom([]uuid.UUID{alice, bob}, "hello")

	_, err := coord.Create(ctx, room)
	require.NoError(t, err)
	l := coord.lockRoom(room.RoomID)

	coord.Arm(ctx, room.RoomID)
	coord.Progress(ctx, room.RoomID, alice, 0, "hello", nil)
	evs := coord.CompleteSentence(ctx, room.RoomID, bob, 0)
	findEvent(t, evs, events.EventTypeGameFinished)

	assert.Same(t, l, coord.lockRoom(room.RoomID))

	_, err = coord.Create(ctx, room)
	require.NoError(t, err)
	assert.Same(t, l, coord.lockRoom(room.RoomID))
}

func TestKeystrokeLog(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	coord, _, _ := newTestCoordinator(t, fc, nil)

	alice := uuid.New()
	room := testRoom([]uuid.UUID{alice, uuid.New()}, "hello")

	_, err := coord.Create(ctx, room)
	require.NoError(t, err)
	coord.Arm(ctx, room.RoomID)

	coord.Progress(ctx, room.RoomID, alice, 0, "h", &KeystrokeInput{Character: "h"})
	coord.Progress(ctx, room.RoomID, alice, 0, "ha", &KeystrokeInput{Character: "a"})

	// Not single characters; rejected, not truncated.
	coord.Progress(ctx, room.RoomID, alice, 0, "hal", &KeystrokeInput{Character: "al"})
	coord.Progress(ctx, room.RoomID, alice, 0, "hal", &KeystrokeInput{Character: ""})

	sess, err := coord.Snapshot(room.RoomID)
	require.NoError(t, err)
	keystrokes := sess.Player(alice).Keystrokes
	require.Len(t, keystrokes, 2)
	assert.Equal(t, "h", keystrokes[0].Character)
	assert.True(t, keystrokes[0].IsCorrect)
	assert.Equal(t, "a", keystrokes[1].Character)
	assert.False(t, keystrokes[1].IsCorrect)
}
