package engine

import "context"

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is the provider-agnostic message we pass around.
type ChatMessage struct {
	Role    MessageRole
	Content string
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Stream event types.
const (
	EventDelta = "delta"
	EventUsage = "usage"
)

// StreamEvent is one incremental event of a completion stream. A delta event may
// carry a reasoning fragment, an answer fragment, or both.
type StreamEvent struct {
	Type      string // "delta" | "usage"
	Text      string // answer fragment
	Reasoning string // reasoning fragment
	Usage     Usage  // for usage
}

// LLMClient abstracts the chosen SDK (OpenAI-compatible, Anthropic).
//
// Stream sends events on the first channel and closes it when the stream ends.
// The error channel receives exactly one value: nil on success or the fault that
// terminated the stream.
type LLMClient interface {
	Stream(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (<-chan StreamEvent, <-chan error)
}

// ChatOptions keeps knobs forwarded to the SDK.
type ChatOptions struct {
	Temperature     float32
	MaxOutputTokens int
	// Reasoning asks the provider to stream its thinking channel.
	Reasoning       bool
	ReasoningBudget int
}
