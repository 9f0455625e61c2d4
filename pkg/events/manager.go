package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// listenTimeout bounds how long a LISTEN command may block when subscribing
// to a new PG channel. Without this, a stalled connection would block the
// subscribing goroutine (and thus the client's read loop) indefinitely.
const listenTimeout = 10 * time.Second

// ConnectionManager manages WebSocket connections and their per-meeting
// channel subscriptions. Each process has one ConnectionManager instance;
// delivery is best-effort and at-most-once — there is no catchup or
// persisted event log, clients reconcile by re-fetching state.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	// listener is set after construction once the optional cross-pod
	// NotifyListener is also up; nil disables dynamic LISTEN/UNLISTEN
	// (single-process deployments still broadcast fine without it).
	listener   *NotifyListener
	listenerMu sync.RWMutex

	writeTimeout time.Duration
}

// Connection represents a single WebSocket client, scoped to exactly one
// meeting's event channel for the lifetime of the connection.
//
// subscriptions is accessed WITHOUT a lock: all reads and writes happen on
// the single goroutine that owns this connection (HandleConnection and its
// deferred cleanup).
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		channels:    make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// SetListener attaches the cross-pod NotifyListener. Called once during
// startup after both ConnectionManager and NotifyListener are constructed.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// HandleConnection manages the lifecycle of a single WebSocket connection
// subscribed to channel. Called by the WS HTTP handler after upgrade.
// Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, channel string) {
	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	if err := m.subscribe(c, channel); err != nil {
		slog.Error("failed to subscribe WebSocket connection", "connection_id", connID, "channel", channel, "error", err)
		return
	}

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
		"channel":       channel,
	})

	// The protocol is server-push only; drain and discard anything the
	// client sends (including close frames) until the connection ends.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast sends an event payload to all connections subscribed to
// channel. A send failure unregisters that subscriber.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// sending, so a slow write doesn't stall register/unregister.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, event); err != nil {
			slog.Warn("failed to send to WebSocket client, removing subscriber",
				"connection_id", conn.ID, "channel", channel, "error", err)
			m.unregisterConnection(conn)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported — used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

// subscribe registers c for channel and starts LISTEN if it is the first
// subscriber. LISTEN is synchronous so it completes before subscribe
// returns, closing the gap where events published just after subscribing
// would otherwise race an async LISTEN.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.channelMu.Lock()
	needsListen := false
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
		needsListen = true
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	if needsListen {
		m.listenerMu.RLock()
		l := m.listener
		m.listenerMu.RUnlock()
		if l != nil {
			listenCtx, listenCancel := context.WithTimeout(context.Background(), listenTimeout)
			defer listenCancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				m.cleanupFailedChannel(c, channel)
				return err
			}
		}
	}

	c.subscriptions[channel] = true
	return nil
}

// cleanupFailedChannel removes every subscriber from channel after a LISTEN
// failure, since their connection.established message (if any) would
// otherwise be a lie: no PG LISTEN backs the channel for them either.
func (m *ConnectionManager) cleanupFailedChannel(triggering *Connection, channel string) {
	m.channelMu.Lock()
	affectedIDs := make([]string, 0, len(m.channels[channel]))
	for connID := range m.channels[channel] {
		if connID != triggering.ID {
			affectedIDs = append(affectedIDs, connID)
		}
	}
	delete(m.channels, channel)
	m.channelMu.Unlock()

	if len(affectedIDs) == 0 {
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(affectedIDs))
	for _, id := range affectedIDs {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		slog.Warn("removing orphaned subscriber after LISTEN failure", "connection_id", conn.ID, "channel", channel)
		m.unregisterConnection(conn)
	}
}

// unsubscribe removes c from channel and stops LISTEN if it was the last
// subscriber.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
			m.listenerMu.RLock()
			l := m.listener
			m.listenerMu.RUnlock()
			if l != nil {
				go func() {
					// Re-check before UNLISTEN: a rapid unsubscribe/resubscribe
					// cycle may have already re-added the channel.
					m.channelMu.RLock()
					_, resubscribed := m.channels[channel]
					m.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("failed to UNLISTEN channel", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and all its subscriptions. Safe
// to call more than once for the same connection.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	m.mu.Lock()
	_, stillPresent := m.connections[c.ID]
	delete(m.connections, c.ID)
	m.mu.Unlock()
	if !stillPresent {
		return
	}

	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal WebSocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("failed to send WebSocket message", "connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
