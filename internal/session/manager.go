package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/dodochat/internal/models"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Manager keeps the live sessions of the process in memory.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Conversation
	defaults Defaults
}

// NewManager creates an empty manager.
func NewManager(d Defaults) *Manager {
	return &Manager{
		sessions: make(map[string]*Conversation),
		defaults: d,
	}
}

// Create starts a new session with the registry's default model.
func (m *Manager) Create(reg *models.Registry) *Conversation {
	id := uuid.NewString()
	conv := newConversation(New(id, reg, m.Defaults()), time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = conv
	return conv
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return conv, nil
}

// Delete drops a session. It reports whether the session existed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	conv, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		conv.Cancel()
	}
	return ok
}

// List returns all sessions, most recently updated first.
func (m *Manager) List() []Meta {
	m.mu.Lock()
	convs := make([]*Conversation, 0, len(m.sessions))
	for _, c := range m.sessions {
		convs = append(convs, c)
	}
	m.mu.Unlock()

	metas := make([]Meta, 0, len(convs))
	for _, c := range convs {
		metas = append(metas, c.Meta())
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas
}

// Each calls fn for every live session.
func (m *Manager) Each(fn func(c *Conversation)) {
	m.mu.Lock()
	convs := make([]*Conversation, 0, len(m.sessions))
	for _, c := range m.sessions {
		convs = append(convs, c)
	}
	m.mu.Unlock()
	for _, c := range convs {
		fn(c)
	}
}

// Defaults returns the settings new sessions start with.
func (m *Manager) Defaults() Defaults {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaults
}

// SetDefaults replaces the settings for sessions created from now on.
func (m *Manager) SetDefaults(d Defaults) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = d
}
