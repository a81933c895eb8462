package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/typosquad/typerace/internal/game/events"
)

// ConnectionManager owns every live WebSocket connection and the per-room
// broadcast groups. A connection is bound to an identity at upgrade time and
// subscribes to a room via join-room.
type ConnectionManager struct {
	roomConnections map[uuid.UUID]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage

	// onRoomEmpty fires after the last connection of a room unsubscribes.
	onRoomEmpty func(roomID uuid.UUID)
}

// Connection is one client socket with its resolved identity.
type Connection struct {
	ID       string
	UserID   uuid.UUID
	Nickname string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	mu     sync.Mutex
	roomID uuid.UUID

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	roomID uuid.UUID
	userID uuid.UUID // zero means room-wide
	data   []byte
	typ    events.EventType
}

// DefaultConnectionConfig returns the default WebSocket configuration.
// Message size allows a full sentence of multi-byte text plus envelope.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetRoomEmptyHandler registers the callback fired when a room's broadcast
// group becomes empty. Must be called before serving connections.
func (cm *ConnectionManager) SetRoomEmptyHandler(fn func(roomID uuid.UUID)) {
	cm.onRoomEmpty = fn
}

// Start processes broadcast messages until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Upgrade turns an HTTP request into a managed WebSocket connection for the
// given identity and starts its pumps. dispatch receives every inbound frame.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, userID uuid.UUID, nickname string, dispatch func(*Connection, []byte)) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Nickname:    nickname,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	go connection.writePump()
	go connection.readPump(dispatch)

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID.String()).
		Str("nickname", nickname).
		Msg("websocket connection established")

	return connection, nil
}

// Subscribe binds the connection to a room's broadcast group, leaving any
// previous room first.
func (cm *ConnectionManager) Subscribe(conn *Connection, roomID uuid.UUID) {
	cm.Unsubscribe(conn)

	cm.mu.Lock()
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true
	total := len(cm.roomConnections[roomID])
	cm.mu.Unlock()

	conn.setRoom(roomID)

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID.String()).
		Int("room_connections", total).
		Msg("connection subscribed to room")
}

// Unsubscribe removes the connection from its current room, if any. When the
// room's group becomes empty the room-empty handler fires.
func (cm *ConnectionManager) Unsubscribe(conn *Connection) {
	roomID := conn.setRoom(uuid.Nil)
	if roomID == uuid.Nil {
		return
	}

	cm.mu.Lock()
	empty := false
	if conns, ok := cm.roomConnections[roomID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(cm.roomConnections, roomID)
			empty = true
		}
	}
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID.String()).
		Msg("connection unsubscribed from room")

	if empty && cm.onRoomEmpty != nil {
		cm.onRoomEmpty(roomID)
	}
}

// Emit queues coordinator events for delivery. Private events reach only
// their target user's connections.
func (cm *ConnectionManager) Emit(evs ...events.Event) {
	for _, ev := range evs {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to marshal event")
			continue
		}
		msg := broadcastMessage{roomID: ev.RoomID, userID: ev.TargetUserID, data: data, typ: ev.Type}
		select {
		case cm.broadcastCh <- msg:
		default:
			log.Warn().
				Str("room_id", ev.RoomID.String()).
				Str("event_type", string(ev.Type)).
				Msg("broadcast channel full, dropping event")
		}
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	conns, ok := cm.roomConnections[message.roomID]
	if !ok {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(conns))
	for conn := range conns {
		if message.userID != uuid.Nil && conn.UserID != message.userID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- message.data:
		default:
			// Slow or dead client; drop it rather than stall the room.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID.String()).
				Msg("send buffer full, closing connection")
			cm.Unsubscribe(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.typ)).
		Str("room_id", message.roomID.String()).
		Int("connections", len(targets)).
		Msg("event delivered")
}

// Stats returns connection counts per room.
func (cm *ConnectionManager) Stats() (totalConnections, activeRooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, conns := range cm.roomConnections {
		totalConnections += len(conns)
	}
	return totalConnections, len(cm.roomConnections)
}

func (c *Connection) setRoom(roomID uuid.UUID) (previous uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.roomID
	c.roomID = roomID
	return previous
}

// Room returns the room this connection is currently subscribed to.
func (c *Connection) Room() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// SendEvent writes one event directly to this connection, bypassing the room
// fan-out. Used for replies and per-sender errors.
func (c *Connection) SendEvent(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to marshal event")
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping reply")
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.Unsubscribe(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump(dispatch func(*Connection, []byte)) {
	defer func() {
		c.Manager.Unsubscribe(c)
		c.Conn.Close()
		close(c.Send)
		log.Info().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID.String()).
			Msg("websocket connection closed")
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		dispatch(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
