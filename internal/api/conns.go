package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnRegistry tracks open chat sockets per user key.
type ConnRegistry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the connection registered for a user and connection id.
func (m *ConnRegistry) Get(userKey, connID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conns, ok := m.active[userKey]; ok {
		return conns[connID]
	}
	return nil
}

// Register adds a connection for a user.
func (m *ConnRegistry) Register(userKey, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userKey]; !exists {
		m.active[userKey] = make(map[string]*websocket.Conn)
	}
	m.active[userKey][connID] = conn
	slog.Debug("Chat socket registered", "user_id", userKey, "conn_id", connID)
}

// Unregister removes a connection if it is still the registered one.
func (m *ConnRegistry) Unregister(userKey, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[userKey]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, userKey)
			}
			slog.Debug("Chat socket unregistered", "user_id", userKey, "conn_id", connID)
		}
	}
}

// Count returns the number of open sockets for a user.
func (m *ConnRegistry) Count(userKey string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userKey])
}

// CloseUser closes every socket for a user and returns how many it closed.
func (m *ConnRegistry) CloseUser(userKey string) int {
	m.mu.Lock()
	conns := m.active[userKey]
	delete(m.active, userKey)
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session reset")
	}
	return len(conns)
}
