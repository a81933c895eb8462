// Package gateway is the transport adapter: it maps inbound WebSocket frames
// to coordinator operations and fans coordinator emissions out to each room's
// broadcast group.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/typosquad/typerace/internal/game/coordinator"
	"github.com/typosquad/typerace/internal/game/events"
	"github.com/typosquad/typerace/internal/game/session"
	"github.com/typosquad/typerace/internal/models"
	"github.com/typosquad/typerace/internal/rooms"
)

// GameCoordinator is what the adapter needs from the race coordinator.
type GameCoordinator interface {
	Create(ctx context.Context, room *models.RoomInfo) ([]events.Event, error)
	Progress(ctx context.Context, roomID, playerID uuid.UUID, sentenceIndex int, inputText string, keystroke *coordinator.KeystrokeInput) []events.Event
	CompleteSentence(ctx context.Context, roomID, playerID uuid.UUID, sentenceIndex int) []events.Event
	Cancel(ctx context.Context, roomID uuid.UUID)
	Snapshot(roomID uuid.UUID) (*models.RaceSession, error)
}

// RoomProvider is the lobby-side collaborator for rosters and room status.
type RoomProvider interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.RoomInfo, error)
	UpdateStatus(ctx context.Context, roomID uuid.UUID, status models.RoomStatus) error
}

// Adapter dispatches inbound messages and routes coordinator emissions.
type Adapter struct {
	manager     *ConnectionManager
	coordinator GameCoordinator
	rooms       RoomProvider
}

// NewAdapter wires the adapter and registers the room-empty teardown hook.
func NewAdapter(manager *ConnectionManager, coord GameCoordinator, roomProvider RoomProvider) *Adapter {
	a := &Adapter{
		manager:     manager,
		coordinator: coord,
		rooms:       roomProvider,
	}
	manager.SetRoomEmptyHandler(a.roomEmptied)
	return a
}

// Dispatch handles one inbound frame from a connection. Malformed payloads
// and unauthorized actions produce an error event to the sender only; stale
// game events are dropped silently inside the coordinator.
func (a *Adapter) Dispatch(conn *Connection, raw []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		a.sendError(conn, "malformed message")
		return
	}

	ctx := context.Background()
	switch msg.Type {
	case MessageTypeJoinRoom:
		a.handleJoinRoom(ctx, conn, msg.Data)
	case MessageTypeStartGame:
		a.handleStartGame(ctx, conn, msg.Data)
	case MessageTypeTypingProgress:
		a.handleTypingProgress(ctx, conn, msg.Data)
	case MessageTypeSentenceCompleted:
		a.handleSentenceCompleted(ctx, conn, msg.Data)
	case MessageTypeLeaveRoom:
		a.manager.Unsubscribe(conn)
	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("type", string(msg.Type)).
			Msg("unknown message type")
	}
}

func (a *Adapter) handleJoinRoom(ctx context.Context, conn *Connection, data json.RawMessage) {
	var payload JoinRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil {
		a.sendError(conn, "roomId is required")
		return
	}

	room, err := a.rooms.GetRoom(ctx, payload.RoomID)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			a.sendError(conn, "room does not exist")
			return
		}
		log.Error().Err(err).Str("room_id", payload.RoomID.String()).Msg("failed to load room")
		a.sendError(conn, "failed to join room")
		return
	}

	member := false
	for _, p := range room.Players {
		if p.UserID == conn.UserID {
			member = true
			break
		}
	}
	if !member {
		a.sendError(conn, "you are not a player in this room")
		return
	}

	a.manager.Subscribe(conn, payload.RoomID)

	// Reply with the live race if one is running, otherwise the room summary.
	if sess, err := a.coordinator.Snapshot(payload.RoomID); err == nil {
		conn.SendEvent(events.ToUser(payload.RoomID, conn.UserID, events.EventTypeGameState, timeNow(), sess))
		return
	}
	conn.SendEvent(events.ToUser(payload.RoomID, conn.UserID, events.EventTypeRoomJoined, timeNow(), events.RoomJoinedPayload{Room: room}))
}

func (a *Adapter) handleStartGame(ctx context.Context, conn *Connection, data json.RawMessage) {
	var payload StartGamePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil {
		a.sendError(conn, "roomId is required")
		return
	}

	room, err := a.rooms.GetRoom(ctx, payload.RoomID)
	if err != nil {
		a.sendError(conn, "room does not exist")
		return
	}
	if room.HostID != conn.UserID {
		a.sendError(conn, "only the host can start the game")
		return
	}

	evs, err := a.coordinator.Create(ctx, room)
	if err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			a.sendError(conn, "the game is already running")
			return
		}
		log.Error().Err(err).Str("room_id", payload.RoomID.String()).Msg("failed to create race")
		a.sendError(conn, "failed to start the game")
		return
	}

	if err := a.rooms.UpdateStatus(ctx, payload.RoomID, models.RoomStatusPlaying); err != nil {
		log.Warn().Err(err).Str("room_id", payload.RoomID.String()).Msg("failed to update room status")
	}

	a.manager.Emit(evs...)
}

func (a *Adapter) handleTypingProgress(ctx context.Context, conn *Connection, data json.RawMessage) {
	var payload TypingProgressPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil {
		a.sendError(conn, "malformed typing-progress payload")
		return
	}

	evs := a.coordinator.Progress(ctx, payload.RoomID, conn.UserID, payload.SentenceIndex, payload.InputText, payload.Keystroke)
	a.emitWithRoomFinish(ctx, payload.RoomID, evs)
}

func (a *Adapter) handleSentenceCompleted(ctx context.Context, conn *Connection, data json.RawMessage) {
	var payload SentenceCompletedPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil {
		a.sendError(conn, "malformed sentence-completed payload")
		return
	}

	evs := a.coordinator.CompleteSentence(ctx, payload.RoomID, conn.UserID, payload.SentenceIndex)
	a.emitWithRoomFinish(ctx, payload.RoomID, evs)
}

// emitWithRoomFinish fans events out and mirrors a race conclusion back to
// the lobby-side room status.
func (a *Adapter) emitWithRoomFinish(ctx context.Context, roomID uuid.UUID, evs []events.Event) {
	for _, ev := range evs {
		if ev.Type == events.EventTypeGameFinished {
			if err := a.rooms.UpdateStatus(ctx, roomID, models.RoomStatusFinished); err != nil {
				log.Warn().Err(err).Str("room_id", roomID.String()).Msg("failed to update room status")
			}
			break
		}
	}
	a.manager.Emit(evs...)
}

// roomEmpty teardown: once every connection has left a room, any race still
// running there is abandoned without a result.
func (a *Adapter) roomEmptied(roomID uuid.UUID) {
	a.coordinator.Cancel(context.Background(), roomID)
}

func (a *Adapter) sendError(conn *Connection, message string) {
	conn.SendEvent(events.ToUser(conn.Room(), conn.UserID, events.EventTypeError, timeNow(), events.ErrorPayload{Message: message}))
}

func timeNow() time.Time {
	return time.Now()
}
