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
	"github.com/quizkit/mathrush/internal/models"
	"github.com/rs/zerolog/log"
)

// IdentityVerifier validates a bearer credential and yields the verified
// identity or rejects it.
type IdentityVerifier interface {
	Verify(credential string) (string, error)
}

// Session defines what the gateway needs from the session coordinator.
type Session interface {
	SubmitAnswer(ctx context.Context, username, answer string)
	CurrentQuestion() (models.Question, bool)
}

// Manager owns the websocket connection registry and fans session events out
// to every registered connection. Fan-out is best-effort over already-open
// connections; a dead or slow connection is dropped, never retried, and
// never blocks delivery to the others.
type Manager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage

	verifier IdentityVerifier

	sessionMu sync.RWMutex
	session   Session
}

// Connection represents one websocket participant. Identity is empty until
// the client authenticates; question broadcasts reach it either way.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	manager *Manager

	// closed by the write pump once it has drained Send and shut the socket
	writeDone chan struct{}

	mu            sync.Mutex
	username      string
	authenticated bool
	closed        bool

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for websocket connections
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
	event *Event
	// target, when set, restricts delivery to a single connection.
	target *Connection
}

// DefaultConnectionConfig returns default websocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewManager creates a websocket connection manager
func NewManager(config ConnectionConfig, verifier IdentityVerifier) *Manager {
	return &Manager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
		verifier:    verifier,
	}
}

// AttachSession wires in the session coordinator. Called once during setup,
// before Start; the coordinator in turn broadcasts through this manager.
func (m *Manager) AttachSession(s Session) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	m.session = s
}

func (m *Manager) currentSession() Session {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	return m.session
}

// Start begins processing broadcast messages
func (m *Manager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-m.broadcastCh:
			m.handleBroadcast(message)
		}
	}
}

// HandleConnection upgrades an HTTP request to a websocket and registers the
// participant, unauthenticated by default.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		manager:     m,
		writeDone:   make(chan struct{}),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	m.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()
}

// BroadcastQuestion fans the question out to every registered connection,
// authenticated or not.
func (m *Manager) BroadcastQuestion(q models.Question) {
	event, err := newQuestionEvent(q)
	if err != nil {
		log.Error().Err(err).Msg("failed to build question event")
		return
	}
	m.enqueue(broadcastMessage{event: event})
}

// BroadcastWinner fans the winner announcement out to all connections.
func (m *Manager) BroadcastWinner(username string, correctAnswer int, ranking []models.ScoreRecord) {
	event, err := newWinnerEvent(username, correctAnswer, ranking)
	if err != nil {
		log.Error().Err(err).Msg("failed to build winner event")
		return
	}
	m.enqueue(broadcastMessage{event: event})
}

// sendSnapshot unicasts the currently active question to one connection so
// late joiners see in-progress state.
func (m *Manager) sendSnapshot(conn *Connection) {
	session := m.currentSession()
	if session == nil {
		return
	}
	q, ok := session.CurrentQuestion()
	if !ok {
		return
	}
	event, err := newQuestionEvent(q)
	if err != nil {
		log.Error().Err(err).Msg("failed to build snapshot event")
		return
	}
	m.enqueue(broadcastMessage{event: event, target: conn})
}

func (m *Manager) enqueue(message broadcastMessage) {
	select {
	case m.broadcastCh <- message:
	default:
		log.Warn().Str("event_type", string(message.event.Type)).Msg("broadcast channel full, dropping message")
	}
}

func (m *Manager) registerConnection(conn *Connection) {
	m.mu.Lock()
	m.connections[conn] = true
	total := len(m.connections)
	m.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Int("total_connections", total).
		Msg("connection registered")
}

func (m *Manager) unregisterConnection(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.connections[conn]; exists {
		delete(m.connections, conn)
		conn.closeSend()

		log.Info().
			Str("connection_id", conn.ID).
			Str("username", conn.identityForLog()).
			Msg("connection unregistered")
	}
}

// handleBroadcast delivers one event. Failures are isolated per connection.
func (m *Manager) handleBroadcast(message broadcastMessage) {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.connections))
	for conn := range m.connections {
		if message.target != nil && conn != message.target {
			continue
		}
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	data, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if !conn.trySend(data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			m.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.event.Type)).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// ConnectionCount returns the number of registered connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (c *Connection) setIdentity(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.authenticated = true
}

func (c *Connection) identity() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username, c.authenticated
}

// trySend queues data for the write pump. It reports false when the buffer
// is full or the connection is already torn down; sends and the channel
// close are serialized on c.mu so a racing close cannot panic a sender.
func (c *Connection) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Connection) identityForLog() string {
	username, ok := c.identity()
	if !ok {
		return "anonymous"
	}
	return username
}

// writePump handles sending messages to the websocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.manager.unregisterConnection(c)
		close(c.writeDone)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the websocket connection
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close")
			}
			break
		}

		if err := c.handleClientMessage(message); err != nil {
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

// handleClientMessage dispatches one inbound event. A non-nil return tears
// the connection down.
func (c *Connection) handleClientMessage(message []byte) error {
	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping malformed client message")
		return nil
	}

	switch event.Type {
	case EventTypeAuthenticate:
		return c.handleAuthenticate(event.Data)
	case EventTypeSubmitAnswer:
		c.handleSubmitAnswer(event.Data)
		return nil
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("event_type", string(event.Type)).
			Msg("unknown client event type")
		return nil
	}
}

// handleAuthenticate verifies the credential. Success marks the participant
// and unicasts the current question snapshot; failure sends auth-error and
// force-closes the connection with no retry.
func (c *Connection) handleAuthenticate(data json.RawMessage) error {
	var payload AuthenticatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return c.rejectAuth("Invalid token")
	}

	username, err := c.manager.verifier.Verify(payload.Token)
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("authentication failed")
		return c.rejectAuth("Invalid token")
	}

	c.setIdentity(username)
	log.Info().
		Str("connection_id", c.ID).
		Str("username", username).
		Msg("participant authenticated")

	c.manager.sendSnapshot(c)
	return nil
}

// rejectAuth queues the auth-error event and unregisters the connection.
// The write pump flushes what is queued, then closes the socket.
func (c *Connection) rejectAuth(message string) error {
	if event, err := newAuthErrorEvent(message); err == nil {
		if data, err := json.Marshal(event); err == nil {
			c.trySend(data)
		}
	}
	c.manager.unregisterConnection(c)

	// Wait for the write pump to flush the auth-error before the read pump
	// tears the socket down.
	select {
	case <-c.writeDone:
	case <-time.After(time.Second):
	}
	return fmt.Errorf("authentication rejected")
}

// handleSubmitAnswer forwards an answer to the coordinator. Submissions from
// unauthenticated connections are ignored, and the award uses the verified
// identity, never the payload username.
func (c *Connection) handleSubmitAnswer(data json.RawMessage) {
	username, ok := c.identity()
	if !ok {
		log.Debug().
			Str("connection_id", c.ID).
			Msg("ignoring submission from unauthenticated connection")
		return
	}

	var payload SubmitAnswerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping malformed submission")
		return
	}

	session := c.manager.currentSession()
	if session == nil {
		return
	}
	session.SubmitAnswer(context.Background(), username, string(payload.Answer))
}
