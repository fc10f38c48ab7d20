package providers

import (
	"fmt"

	"github.com/ChamsBouzaiene/dodochat/internal/engine"
	"github.com/ChamsBouzaiene/dodochat/internal/models"
)

// NewLLMClient creates an engine.LLMClient for the profile's provider. Every
// call gets its own HTTP transport.
func NewLLMClient(p models.Profile) (engine.LLMClient, error) {
	switch p.Provider {
	case models.ProviderOpenAI, "":
		client, err := NewOpenAIClient(p.Credential, p.Endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client for %s: %w", p.ID, err)
		}
		return client, nil

	case models.ProviderAnthropic:
		client, err := NewAnthropicClient(p.Credential, p.Endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic client for %s: %w", p.ID, err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown provider %q for model %s (supported: openai, anthropic)", p.Provider, p.ID)
	}
}

// Options returns the chat options a turn with this profile should use.
func Options(p models.Profile, reasoning bool) engine.ChatOptions {
	return engine.ChatOptions{
		Reasoning:       reasoning && p.SupportsReasoning,
		ReasoningBudget: p.ReasoningBudget,
	}
}
