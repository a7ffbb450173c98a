package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/tablematch/go/internal/events"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/notify"
	"github.com/rs/zerolog/log"
)

// LobbyJoiner admits a session into a lobby.
type LobbyJoiner interface {
	JoinLobby(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error)
}

// ConnectionManager manages WebSocket connections for lobby events
type ConnectionManager struct {
	// Connection pools organized by lobby ID
	lobbyConnections map[string]map[*Connection]bool
	mu               sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	bus     notify.Bus
	lobbies LobbyJoiner

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a browser
type Connection struct {
	ID        string
	SessionID string
	LobbyID   string
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	RequestTimeout  time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to deliver to connections
type BroadcastMessage struct {
	Event     *events.Event
	SessionID string // Optional: if set, only send to this session
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		RequestTimeout:  5 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// clientMessage is what browsers send over the socket.
type clientMessage struct {
	Type events.Type     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, bus notify.Bus, lobbies LobbyJoiner) *ConnectionManager {
	return &ConnectionManager{
		lobbyConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		bus:         bus,
		lobbies:     lobbies,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, sessionID, lobbyID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		LobbyID:     lobbyID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("session_id", sessionID).
		Str("lobby_id", lobbyID).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.lobbyConnections[conn.LobbyID] == nil {
		cm.lobbyConnections[conn.LobbyID] = make(map[*Connection]bool)
	}
	cm.lobbyConnections[conn.LobbyID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("lobby_id", conn.LobbyID).
		Int("total_connections", len(cm.lobbyConnections[conn.LobbyID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.lobbyConnections[conn.LobbyID]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	close(conn.Send)

	if len(connections) == 0 {
		delete(cm.lobbyConnections, conn.LobbyID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Str("lobby_id", conn.LobbyID).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.lobbyConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// BroadcastToLobby sends an event to every connection in its lobby that should
// receive it.
func (cm *ConnectionManager) BroadcastToLobby(event *events.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Event: event}:
	default:
		log.Warn().Str("lobby_id", event.LobbyID).Msg("broadcast channel full, dropping message")
	}
}

// SendToSession sends an event only to sessionID's connections in the event's lobby.
func (cm *ConnectionManager) SendToSession(sessionID string, event *events.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Event: event, SessionID: sessionID}:
	default:
		log.Warn().
			Str("lobby_id", event.LobbyID).
			Str("session_id", sessionID).
			Msg("broadcast channel full, dropping session message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	// Sends happen under the read lock so unregisterConnection cannot close a
	// channel mid-send.
	var slow []*Connection
	sent := 0
	cm.mu.RLock()
	for conn := range cm.lobbyConnections[message.Event.LobbyID] {
		if message.SessionID != "" {
			if conn.SessionID != message.SessionID {
				continue
			}
		} else if !message.Event.DeliverTo(conn.SessionID) {
			continue
		}
		select {
		case conn.Send <- eventData:
			sent++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("session_id", conn.SessionID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("lobby_id", message.Event.LobbyID).
		Int("connections", sent).
		Msg("event broadcasted")
}

// ConnectionStats summarizes active connections.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveLobbies    int            `json:"active_lobbies"`
	LobbyConnections map[string]int `json:"lobby_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveLobbies:    len(cm.lobbyConnections),
		LobbyConnections: make(map[string]int, len(cm.lobbyConnections)),
	}
	for lobbyID, connections := range cm.lobbyConnections {
		stats.TotalConnections += len(connections)
		stats.LobbyConnections[lobbyID] = len(connections)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage answers join requests and relays everything else to the
// lobby through the bus.
func (c *Connection) handleClientMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError(msg.Type, "malformed message")
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("session_id", c.SessionID).
		Str("type", string(msg.Type)).
		Msg("received client message")

	ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.RequestTimeout)
	defer cancel()

	if msg.Type == events.TypeJoinRoomRequest {
		c.handleJoin(ctx)
		return
	}

	var payload any
	if len(msg.Data) > 0 {
		payload = msg.Data
	}
	event, err := events.New(c.LobbyID, c.SessionID, msg.Type, payload)
	if err != nil {
		c.sendError(msg.Type, err.Error())
		return
	}
	if err := c.Manager.bus.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("lobby_id", c.LobbyID).Str("type", string(msg.Type)).Msg("failed to relay client message")
		c.sendError(msg.Type, "failed to relay message")
	}
}

func (c *Connection) handleJoin(ctx context.Context) {
	l, err := c.Manager.lobbies.JoinLobby(ctx, c.LobbyID, c.SessionID)
	if err != nil {
		log.Warn().Err(err).Str("lobby_id", c.LobbyID).Str("session_id", c.SessionID).Msg("join request rejected")
		c.sendError(events.TypeJoinRoomRequest, err.Error())
		return
	}
	payload := events.JoinPayload{SessionID: c.SessionID}
	if m := l.Member(c.SessionID); m != nil {
		payload.Nickname = m.Nickname
	}
	event, err := events.Direct(c.LobbyID, events.TypeJoinRoomAccepted, payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build join acceptance")
		return
	}
	c.Manager.SendToSession(c.SessionID, &event)
}

func (c *Connection) sendError(request events.Type, message string) {
	event, err := events.Direct(c.LobbyID, events.TypeError, events.ErrorPayload{Request: request, Message: message})
	if err != nil {
		log.Error().Err(err).Msg("failed to build error event")
		return
	}
	c.Manager.SendToSession(c.SessionID, &event)
}
