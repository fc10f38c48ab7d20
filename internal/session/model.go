package session

import (
	"strings"

	"github.com/ChamsBouzaiene/dodochat/internal/engine"
	"github.com/ChamsBouzaiene/dodochat/internal/models"
)

// Defaults seed every new session.
type Defaults struct {
	ContextTurns int
	SystemPrompt string
}

// State holds the per-session settings. ReasoningEnabled is false whenever the
// selected model does not support reasoning.
type State struct {
	ID               string `json:"id"`
	SelectedModel    string `json:"selected_model"`
	ContextTurns     int    `json:"context_turns"`
	SystemPrompt     string `json:"system_prompt"`
	ReasoningEnabled bool   `json:"reasoning_enabled"`
}

// New builds the initial state of a session. Reasoning starts on when the
// default model supports it.
func New(id string, reg *models.Registry, d Defaults) State {
	p := reg.Default()
	s := State{
		ID:               id,
		SelectedModel:    p.ID,
		ReasoningEnabled: p.SupportsReasoning,
	}
	s.SetContextTurns(d.ContextTurns)
	s.SetSystemPrompt(d.SystemPrompt, d.SystemPrompt)
	return s
}

// SelectModel switches to the profile for id, falling back to the first
// configured profile. A model without reasoning support turns reasoning off;
// otherwise the toggle is left as it was.
func (s *State) SelectModel(reg *models.Registry, id string) models.Profile {
	p := reg.Get(id)
	s.SelectedModel = p.ID
	if !p.SupportsReasoning {
		s.ReasoningEnabled = false
	}
	return p
}

// SetContextTurns sets how many rounds of history go into a request. Values
// below 1 clamp to 1.
func (s *State) SetContextTurns(n int) int {
	if n < 1 {
		n = 1
	}
	s.ContextTurns = n
	return n
}

// SetSystemPrompt replaces the system prompt. Blank input restores fallback.
func (s *State) SetSystemPrompt(text, fallback string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		text = fallback
	}
	s.SystemPrompt = text
	return text
}

// SetReasoning turns the reasoning channel on or off and returns the effective
// value. It stays off for models without reasoning support.
func (s *State) SetReasoning(reg *models.Registry, on bool) bool {
	s.ReasoningEnabled = on && s.Profile(reg).SupportsReasoning
	return s.ReasoningEnabled
}

// Profile returns the selected model profile.
func (s State) Profile(reg *models.Registry) models.Profile {
	return reg.Get(s.SelectedModel)
}

// Reconcile re-applies the model selection against a new registry.
func (s *State) Reconcile(reg *models.Registry) {
	s.SelectModel(reg, s.SelectedModel)
}

// ContextParams returns the settings the context builder needs.
func (s State) ContextParams() engine.ContextParams {
	return engine.ContextParams{SystemPrompt: s.SystemPrompt, ContextTurns: s.ContextTurns}
}
