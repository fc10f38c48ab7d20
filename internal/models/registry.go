// Package models holds the configured remote model endpoints.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Provider names the wire protocol spoken by a model endpoint.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"    // Any OpenAI-compatible chat completions endpoint
	ProviderAnthropic Provider = "anthropic" // Anthropic Messages API
)

// DefaultReasoningBudget is the thinking budget used when a profile does not set one.
const DefaultReasoningBudget = 2048

// Profile describes one remote model endpoint. Profiles are values and are never
// mutated after the registry is built.
type Profile struct {
	ID                string   `json:"id"`
	Provider          Provider `json:"provider"`
	Endpoint          string   `json:"endpoint"`
	Credential        string   `json:"-"`
	SupportsReasoning bool     `json:"supports_reasoning"`
	ReasoningBudget   int      `json:"reasoning_budget,omitempty"`
}

// Validate reports the first missing required field.
func (p Profile) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return errors.New("profile id is required")
	case strings.TrimSpace(p.Endpoint) == "":
		return fmt.Errorf("profile %s: endpoint is required", p.ID)
	case p.Credential == "":
		return fmt.Errorf("profile %s: credential is required", p.ID)
	}
	switch p.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("profile %s: unknown provider %q", p.ID, p.Provider)
	}
	return nil
}

// Registry is an immutable, ordered set of profiles.
type Registry struct {
	profiles []Profile
	byID     map[string]int
}

// NewRegistry validates the profiles and builds a registry. The first profile is
// the fallback for unknown ids.
func NewRegistry(profiles []Profile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, errors.New("at least one model profile is required")
	}

	r := &Registry{
		profiles: make([]Profile, 0, len(profiles)),
		byID:     make(map[string]int, len(profiles)),
	}
	for _, p := range profiles {
		if p.Provider == "" {
			p.Provider = ProviderOpenAI
		}
		if p.ReasoningBudget <= 0 {
			p.ReasoningBudget = DefaultReasoningBudget
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate model profile id: %s", p.ID)
		}
		r.byID[p.ID] = len(r.profiles)
		r.profiles = append(r.profiles, p)
	}
	return r, nil
}

// Get returns the profile for id, or the first configured profile when id is unknown.
func (r *Registry) Get(id string) Profile {
	if p, ok := r.Lookup(id); ok {
		return p
	}
	return r.profiles[0]
}

// Lookup returns the profile for id without falling back.
func (r *Registry) Lookup(id string) (Profile, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return Profile{}, false
	}
	return r.profiles[idx], true
}

// Default returns the first configured profile.
func (r *Registry) Default() Profile {
	return r.profiles[0]
}

// List returns a copy of all profiles in configuration order.
func (r *Registry) List() []Profile {
	out := make([]Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Len returns the number of profiles.
func (r *Registry) Len() int {
	return len(r.profiles)
}
