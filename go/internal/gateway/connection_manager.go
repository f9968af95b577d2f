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
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/internal/apierr"
	"github.com/mcdev12/duelpad/go/internal/docstore"
)

const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
)

// StreamMessage is one frame on a document stream.
type StreamMessage struct {
	Type     string             `json:"type"`
	Snapshot *docstore.Snapshot `json:"snapshot,omitempty"`
	Error    *apierr.Error      `json:"error,omitempty"`
}

// ConnectionManager tracks document stream connections. Each connection
// holds its own store subscription, so the store decides ordering and
// coalescing.
type ConnectionManager struct {
	store   docstore.Store
	metrics *Metrics

	// Connection pools organized by document key
	docConnections map[string]map[*Connection]bool
	mu             sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection represents a WebSocket connection streaming one document
type Connection struct {
	ID         string
	Collection string
	DocID      string
	Conn       *websocket.Conn
	Send       chan []byte
	Manager    *ConnectionManager

	ConnectedAt time.Time

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBuffer:      32,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(store docstore.Store, config ConnectionConfig, metrics *Metrics) *ConnectionManager {
	return &ConnectionManager{
		store:          store,
		metrics:        metrics,
		docConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// Start blocks until ctx ends, then closes every connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	<-ctx.Done()
	log.Info().Msg("connection manager shutting down")

	cm.mu.RLock()
	var all []*Connection
	for _, conns := range cm.docConnections {
		for c := range conns {
			all = append(all, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range all {
		cm.unregisterConnection(c)
	}
}

// UpgradeConnection upgrades the request and streams collection/id to it.
// The current snapshot is the first frame.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, collection, id string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Collection:  collection,
		DocID:       id,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	unsubscribe, err := cm.store.Subscribe(context.Background(), collection, id, connection.deliver)
	if err != nil {
		log.Error().Err(err).Str("key", docstore.Key(collection, id)).Msg("failed to subscribe stream")
		connection.sendError(apierr.CodeInternal, "failed to subscribe")
		cm.unregisterConnection(connection)
		return nil
	}
	if !connection.setUnsubscribe(unsubscribe) {
		unsubscribe()
	}

	log.Info().
		Str("connection_id", connection.ID).
		Str("key", docstore.Key(collection, id)).
		Msg("WebSocket connection established")
	return nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	key := docstore.Key(conn.Collection, conn.DocID)

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.docConnections[key] == nil {
		cm.docConnections[key] = make(map[*Connection]bool)
	}
	cm.docConnections[key][conn] = true
	if cm.metrics != nil {
		cm.metrics.connections.Inc()
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("key", key).
		Int("total_connections", len(cm.docConnections[key])).
		Msg("connection registered")
}

// unregisterConnection removes a connection, stops its subscription and
// closes its send channel. It is safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	key := docstore.Key(conn.Collection, conn.DocID)

	cm.mu.Lock()
	connections, exists := cm.docConnections[key]
	if exists && connections[conn] {
		delete(connections, conn)
		if len(connections) == 0 {
			delete(cm.docConnections, key)
		}
		if cm.metrics != nil {
			cm.metrics.connections.Dec()
		}
	}
	cm.mu.Unlock()

	if unsubscribe := conn.close(); unsubscribe != nil {
		unsubscribe()
	}
	if exists {
		log.Info().
			Str("connection_id", conn.ID).
			Str("key", key).
			Msg("connection unregistered")
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{Documents: make(map[string]int, len(cm.docConnections))}
	for key, connections := range cm.docConnections {
		stats.TotalConnections += len(connections)
		stats.Documents[key] = len(connections)
	}
	stats.ActiveDocuments = len(cm.docConnections)
	return stats
}

// ConnectionStats is served at /ws/stats.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveDocuments  int            `json:"active_documents"`
	Documents        map[string]int `json:"document_connections"`
}

// deliver is the store callback. A connection whose buffer is full is
// closed; the client reconnects and starts from the current snapshot.
func (c *Connection) deliver(snap docstore.Snapshot) {
	data, err := json.Marshal(StreamMessage{Type: MessageSnapshot, Snapshot: &snap})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot for stream")
		return
	}
	switch c.enqueue(data) {
	case enqueued:
		if c.Manager.metrics != nil {
			c.Manager.metrics.snapshotsSent.WithLabelValues(c.Collection).Inc()
		}
	case bufferFull:
		log.Warn().
			Str("connection_id", c.ID).
			Msg("connection send buffer full, closing connection")
		if c.Manager.metrics != nil {
			c.Manager.metrics.slowClosed.Inc()
		}
		c.Manager.unregisterConnection(c)
	}
}

func (c *Connection) sendError(code, message string) {
	data, err := json.Marshal(StreamMessage{Type: MessageError, Error: &apierr.Error{Code: code, Message: message}})
	if err == nil {
		c.enqueue(data)
	}
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	bufferFull
	connClosed
)

func (c *Connection) enqueue(data []byte) enqueueResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return connClosed
	}
	select {
	case c.Send <- data:
		return enqueued
	default:
		return bufferFull
	}
}

// setUnsubscribe records the store subscription. It reports false when the
// connection already closed.
func (c *Connection) setUnsubscribe(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.unsubscribe = fn
	return true
}

// close marks the connection closed and returns its subscription, if any.
func (c *Connection) close() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.Send)
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	return unsubscribe
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
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
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
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed
func (c *Connection) readPump() {
	defer c.Manager.unregisterConnection(c)

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		log.Debug().
			Str("connection_id", c.ID).
			Int("bytes", len(message)).
			Msg("ignoring client message")
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
