package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"etmf-portal/portal-backend/internal/documents"
	"etmf-portal/portal-backend/internal/notifications"
	"etmf-portal/portal-backend/pkg/workflows"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Manager pushes projection updates to dashboards viewing a document
type Manager struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
	stopOnce sync.Once
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	UserID       string
	Conn         *websocket.Conn
	Send         chan notifications.WebSocketMessage
	LastActivity time.Time

	mu            sync.Mutex
	subscriptions map[string]bool
}

// Subscribe adds document ids the connection wants updates for
func (c *Connection) Subscribe(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.subscriptions[id] = true
	}
}

// Unsubscribe removes document ids
func (c *Connection) Unsubscribe(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.subscriptions, id)
	}
}

// Watches reports whether the connection subscribed to the document
func (c *Connection) Watches(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[id]
}

// Hub manages the broadcast of messages to connections. It is the only
// goroutine that closes a connection's Send channel.
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan notifications.WebSocketMessage
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	count       chan chan int
}

// NewManager creates a new WebSocket manager
func NewManager(allowedOrigins []string, logger *zap.Logger) *Manager {
	hub := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan notifications.WebSocketMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		count:       make(chan chan int),
	}

	go hub.run(logger)

	return &Manager{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin] || set["*"]
	}
}

// HandleConnection upgrades the request and starts pumping messages for userID
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		UserID:        userID,
		Conn:          conn,
		Send:          make(chan notifications.WebSocketMessage, sendBuffer),
		LastActivity:  time.Now(),
		subscriptions: make(map[string]bool),
	}
	if ids := r.URL.Query()["document_id"]; len(ids) > 0 {
		connection.Subscribe(ids...)
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.stop:
		conn.Close()
		return nil, fmt.Errorf("websocket manager is shut down")
	}

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// readPump pumps subscription messages from the client
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.stop:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(4096)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg notifications.WebSocketMessage
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("WebSocket read failed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		m.handleMessage(conn, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) handleMessage(conn *Connection, msg *notifications.WebSocketMessage) {
	switch msg.Type {
	case notifications.WSMessageTypeSubscribe:
		conn.Subscribe(msg.DocumentIDs...)
	case notifications.WSMessageTypeUnsubscribe:
		conn.Unsubscribe(msg.DocumentIDs...)
	default:
		m.logger.Debug("Unknown message type", zap.String("type", msg.Type))
		return
	}

	m.Broadcast(notifications.WebSocketMessage{
		Type:        notifications.WSMessageTypeStatus,
		DocumentIDs: msg.DocumentIDs,
		Data:        map[string]any{"status": msg.Type + "d", "connection_id": conn.ID},
		Timestamp:   time.Now(),
		Target:      conn.ID,
	})
}

// DocumentProjected implements documents.Listener
func (m *Manager) DocumentProjected(_ context.Context, doc *documents.Document, previous workflows.Status) {
	event := notifications.NewDocumentEvent(notifications.WSMessageTypeDocumentUpdated, doc, previous)
	m.Broadcast(notifications.WebSocketMessage{
		Type:        notifications.WSMessageTypeDocumentUpdated,
		DocumentIDs: []string{doc.ID},
		Data: map[string]any{
			"status":          event.Status,
			"previous_status": event.PreviousStatus,
			"current_version": event.CurrentVersion,
			"transitioned":    event.Transitioned(),
		},
		Timestamp: event.OccurredAt,
	})
}

// Broadcast queues a message for every connection watching its documents
func (m *Manager) Broadcast(msg notifications.WebSocketMessage) {
	select {
	case m.hub.broadcast <- msg:
	default:
		m.logger.Warn("Broadcast channel full, dropping message", zap.String("type", msg.Type))
	}
}

// ConnectionCount returns the number of registered connections
func (m *Manager) ConnectionCount() int {
	reply := make(chan int)
	select {
	case m.hub.count <- reply:
		return <-reply
	case <-m.hub.stop:
		return 0
	}
}

// Shutdown closes every connection and stops the hub
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.hub.stop) })
}

// delivers reports whether msg is meant for conn
func delivers(conn *Connection, msg notifications.WebSocketMessage) bool {
	if msg.Target != "" {
		return msg.Target == conn.ID
	}
	for _, id := range msg.DocumentIDs {
		if conn.Watches(id) {
			return true
		}
	}
	return false
}

// run runs the hub in its own goroutine
func (h *Hub) run(logger *zap.Logger) {
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			logger.Debug("Connection registered", zap.String("connection_id", conn.ID), zap.String("user_id", conn.UserID))

		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
				logger.Debug("Connection unregistered", zap.String("connection_id", conn.ID))
			}

		case message := <-h.broadcast:
			for conn := range h.connections {
				if !delivers(conn, message) {
					continue
				}
				select {
				case conn.Send <- message:
				default:
					// slow consumer
					close(conn.Send)
					delete(h.connections, conn)
				}
			}

		case reply := <-h.count:
			reply <- len(h.connections)

		case <-h.stop:
			for conn := range h.connections {
				close(conn.Send)
				delete(h.connections, conn)
			}
			return
		}
	}
}
