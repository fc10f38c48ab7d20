package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/dodochat/internal/engine"
	"github.com/ChamsBouzaiene/dodochat/internal/models"
	"github.com/ChamsBouzaiene/dodochat/internal/transcript"
)

// ClientFactory builds a provider client for a profile.
type ClientFactory func(p models.Profile) (engine.LLMClient, error)

// Conversation is one live session: its settings, its transcript and its own
// provider clients. It processes at most one turn at a time.
type Conversation struct {
	mu         sync.Mutex
	state      State
	transcript transcript.Transcript
	running    bool
	cancelFunc context.CancelFunc
	clients    map[string]cachedClient
	createdAt  time.Time
	updatedAt  time.Time
}

type cachedClient struct {
	profile models.Profile
	client  engine.LLMClient
}

// Meta is a lightweight representation for listing.
type Meta struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Entries   int       `json:"entries"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newConversation(st State, now time.Time) *Conversation {
	return &Conversation{
		state:     st,
		clients:   make(map[string]cachedClient),
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the session id.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ID
}

// State returns a copy of the settings.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Update mutates the settings under the session lock.
func (c *Conversation) Update(fn func(st *State)) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.updatedAt = time.Now()
	return c.state
}

// Entries returns the encoded history.
func (c *Conversation) Entries() []transcript.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Entries()
}

// Records returns the logical history.
func (c *Conversation) Records() []transcript.TurnRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Records()
}

// Append adds records to the transcript.
func (c *Conversation) Append(recs ...transcript.TurnRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.Append(recs...)
	c.updatedAt = time.Now()
}

// Reset clears the transcript. Settings are kept.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.Reset()
	c.updatedAt = time.Now()
}

// BeginTurn marks the session busy. It returns false when a turn is already
// running.
func (c *Conversation) BeginTurn(cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	c.cancelFunc = cancel
	return true
}

// EndTurn releases the session for the next turn.
func (c *Conversation) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.cancelFunc = nil
}

// Busy reports whether a turn is running.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Cancel abandons the running turn, if any.
func (c *Conversation) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running && c.cancelFunc != nil {
		c.cancelFunc()
		// Note: EndTurn() is still called by the turn owner when it exits
		return true
	}
	return false
}

// Client returns this session's client for the profile, building it on first
// use. A profile that changed on reload gets a fresh client.
func (c *Conversation) Client(p models.Profile, factory ClientFactory) (engine.LLMClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.clients[p.ID]; ok && cc.profile == p {
		return cc.client, nil
	}
	client, err := factory(p)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", c.state.ID, err)
	}
	c.clients[p.ID] = cachedClient{profile: p, client: client}
	return client, nil
}

// Meta summarises the session for listing.
func (c *Conversation) Meta() Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Meta{
		ID:        c.state.ID,
		Model:     c.state.SelectedModel,
		Entries:   c.transcript.Len(),
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
}
