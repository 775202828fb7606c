package session

import (
	"fmt"
	"sync"
)

// Manager tracks all live connections in the process.
// All methods are safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewManager creates an empty connection Manager.
func NewManager() *Manager {
	return &Manager{
		conns: make(map[string]*Conn),
	}
}

// Add registers a connection.
//
// Postcondition: Returns an error if the id is already registered.
func (m *Manager) Add(conn *Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conns[conn.ID()]; exists {
		return fmt.Errorf("connection %q already registered", conn.ID())
	}
	m.conns[conn.ID()] = conn
	return nil
}

// Remove unregisters a connection. Removing an unknown id is a no-op so that
// duplicate disconnect signals are tolerated.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

// Get returns the connection for the given id.
//
// Postcondition: Returns (conn, true) if found, or (nil, false) otherwise.
func (m *Manager) Get(id string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[id]
	return conn, ok
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll closes every live connection. Used at process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
