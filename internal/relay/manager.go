package relay

import (
	"sync"
)

// Manager is the set of terminals the relay owns right now. A terminal is
// registered before its stream starts and deregistered before it is closed,
// so nothing in the set is ever a closed descriptor.
type Manager struct {
	mu     sync.Mutex
	active map[string]*Terminal
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{active: make(map[string]*Terminal)}
}

// Add registers t. It reports false, leaving the set unchanged, when a
// terminal with the same ID is already active.
func (m *Manager) Add(t *Terminal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.active[t.ID]; dup {
		return false
	}
	m.active[t.ID] = t
	return true
}

// Remove deregisters id and hands the terminal back to the caller, who must
// close it. It returns nil if id is not active, for example after Drain.
func (m *Manager) Remove(id string) *Terminal {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.active[id]
	delete(m.active, id)
	return t
}

// Drain deregisters every active terminal and returns them.
func (m *Manager) Drain() []*Terminal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Terminal, 0, len(m.active))
	for id, t := range m.active {
		out = append(out, t)
		delete(m.active, id)
	}
	return out
}

// Count returns the number of active terminals.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
