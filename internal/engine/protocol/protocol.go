package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/dodochat/internal/engine"
	"github.com/ChamsBouzaiene/dodochat/internal/models"
	"github.com/ChamsBouzaiene/dodochat/internal/transcript"
)

// CommandType enumerates all supported client -> engine commands.
type CommandType string

const (
	CommandStartSession       CommandType = "start_session"
	CommandUserMessage        CommandType = "user_message"
	CommandCancelRequest      CommandType = "cancel_request"
	CommandReset              CommandType = "reset"
	CommandUpdateModel        CommandType = "update_model"
	CommandUpdateContextSize  CommandType = "update_context_size"
	CommandUpdateSystemPrompt CommandType = "update_system_prompt"
	CommandToggleReasoning    CommandType = "toggle_reasoning"
	CommandGetSettings        CommandType = "get_settings"
	CommandListModels         CommandType = "list_models"
	CommandReloadConfig       CommandType = "reload_config"
)

// Command is a marker interface implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// SessionCommand is implemented by commands addressed to one session.
type SessionCommand interface {
	Command
	Session() string
}

// sessionRef carries the session id shared by most commands.
type sessionRef struct {
	SessionID string `json:"session_id"`
}

func (r sessionRef) Session() string { return r.SessionID }

// StartSessionCommand creates a session, or resumes one still held by the
// engine when SessionID is set.
type StartSessionCommand struct {
	Type      CommandType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
}

// GetType implements Command.
func (c StartSessionCommand) GetType() CommandType { return CommandStartSession }

// UserMessageCommand submits one user message.
type UserMessageCommand struct {
	Type CommandType `json:"type"`
	sessionRef
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// GetType implements Command.
func (c UserMessageCommand) GetType() CommandType { return CommandUserMessage }

// CancelRequestCommand abandons the running turn.
type CancelRequestCommand struct {
	Type CommandType `json:"type"`
	sessionRef
}

// GetType implements Command.
func (c CancelRequestCommand) GetType() CommandType { return CommandCancelRequest }

// ResetCommand clears the transcript.
type ResetCommand struct {
	Type CommandType `json:"type"`
	sessionRef
}

// GetType implements Command.
func (c ResetCommand) GetType() CommandType { return CommandReset }

// UpdateModelCommand selects a model.
type UpdateModelCommand struct {
	Type CommandType `json:"type"`
	sessionRef
	ModelID string `json:"model_id"`
}

// GetType implements Command.
func (c UpdateModelCommand) GetType() CommandType { return CommandUpdateModel }

// UpdateContextSizeCommand sets how many rounds of history are sent.
type UpdateContextSizeCommand struct {
	Type CommandType `json:"type"`
	sessionRef
	ContextSize int `json:"context_size"`
}

// GetType implements Command.
func (c UpdateContextSizeCommand) GetType() CommandType { return CommandUpdateContextSize }

// UpdateSystemPromptCommand replaces the system prompt.
type UpdateSystemPromptCommand struct {
	Type CommandType `json:"type"`
	sessionRef
	Prompt string `json:"prompt"`
}

// GetType implements Command.
func (c UpdateSystemPromptCommand) GetType() CommandType { return CommandUpdateSystemPrompt }

// ToggleReasoningCommand turns the reasoning channel on or off.
type ToggleReasoningCommand struct {
	Type CommandType `json:"type"`
	sessionRef
	Enabled bool `json:"enabled"`
}

// GetType implements Command.
func (c ToggleReasoningCommand) GetType() CommandType { return CommandToggleReasoning }

// GetSettingsCommand requests the session settings.
type GetSettingsCommand struct {
	Type CommandType `json:"type"`
	sessionRef
}

// GetType implements Command.
func (c GetSettingsCommand) GetType() CommandType { return CommandGetSettings }

// ListModelsCommand requests the configured models.
type ListModelsCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c ListModelsCommand) GetType() CommandType { return CommandListModels }

// ReloadConfigCommand re-reads the configuration file.
type ReloadConfigCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c ReloadConfigCommand) GetType() CommandType { return CommandReloadConfig }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch base.Type {
	case CommandStartSession:
		return decode[StartSessionCommand](data, base.Type)
	case CommandUserMessage:
		cmd, err := decodeSession[UserMessageCommand](data, base.Type)
		if err != nil {
			return nil, err
		}
		if cmd.Message == "" {
			return nil, errors.New("user_message requires message")
		}
		return cmd, nil
	case CommandCancelRequest:
		return decodeSession[CancelRequestCommand](data, base.Type)
	case CommandReset:
		return decodeSession[ResetCommand](data, base.Type)
	case CommandUpdateModel:
		return decodeSession[UpdateModelCommand](data, base.Type)
	case CommandUpdateContextSize:
		return decodeSession[UpdateContextSizeCommand](data, base.Type)
	case CommandUpdateSystemPrompt:
		return decodeSession[UpdateSystemPromptCommand](data, base.Type)
	case CommandToggleReasoning:
		return decodeSession[ToggleReasoningCommand](data, base.Type)
	case CommandGetSettings:
		return decodeSession[GetSettingsCommand](data, base.Type)
	case CommandListModels:
		return decode[ListModelsCommand](data, base.Type)
	case CommandReloadConfig:
		return decode[ReloadConfigCommand](data, base.Type)
	case "":
		return nil, errors.New("command requires type")
	default:
		return nil, fmt.Errorf("unknown command type: %s", base.Type)
	}
}

func decode[T Command](data []byte, t CommandType) (T, error) {
	var cmd T
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("decode %s: %w", t, err)
	}
	return cmd, nil
}

func decodeSession[T SessionCommand](data []byte, t CommandType) (T, error) {
	cmd, err := decode[T](data, t)
	if err != nil {
		return cmd, err
	}
	if cmd.Session() == "" {
		return cmd, fmt.Errorf("%s requires session_id", t)
	}
	return cmd, nil
}

// NewRequestID generates an id for a user_message sent without one.
func NewRequestID() string {
	return uuid.NewString()
}

// EventType enumerates engine -> client events.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventStatus         EventType = "status"
	EventFragment       EventType = "fragment"
	EventTurnDone       EventType = "turn_done"
	EventSettings       EventType = "settings"
	EventModels         EventType = "models"
	EventError          EventType = "error"
	EventCancelled      EventType = "cancelled"
	EventConfigReloaded EventType = "config_reloaded"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into JSON for NDJSON transport.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
}

func (eventBase) isEvent() {}

// SessionStartedEvent answers start_session.
type SessionStartedEvent struct {
	eventBase
	Resumed bool               `json:"resumed"`
	Entries []transcript.Entry `json:"entries"`
}

// NewSessionStartedEvent constructs a session_started event.
func NewSessionStartedEvent(sessionID string, resumed bool, entries []transcript.Entry) SessionStartedEvent {
	if entries == nil {
		entries = []transcript.Entry{}
	}
	return SessionStartedEvent{
		eventBase: eventBase{Type: EventSessionStarted, SessionID: sessionID},
		Resumed:   resumed,
		Entries:   entries,
	}
}

// GetType implements Event.
func (e SessionStartedEvent) GetType() EventType { return e.Type }

// StatusEvent carries a status line for the user.
type StatusEvent struct {
	eventBase
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NewStatusEvent constructs a status event.
func NewStatusEvent(sessionID, status, detail string) StatusEvent {
	return StatusEvent{
		eventBase: eventBase{Type: EventStatus, SessionID: sessionID},
		Status:    status,
		Detail:    detail,
	}
}

// GetType implements Event.
func (e StatusEvent) GetType() EventType { return e.Type }

// FragmentEvent streams one display fragment of a running turn.
type FragmentEvent struct {
	eventBase
	RequestID string              `json:"request_id,omitempty"`
	Kind      engine.FragmentKind `json:"kind"`
	Content   string              `json:"content"`
}

// NewFragmentEvent constructs a fragment event.
func NewFragmentEvent(sessionID, requestID string, f engine.Fragment) FragmentEvent {
	return FragmentEvent{
		eventBase: eventBase{Type: EventFragment, SessionID: sessionID},
		RequestID: requestID,
		Kind:      f.Kind,
		Content:   f.Text,
	}
}

// GetType implements Event.
func (e FragmentEvent) GetType() EventType { return e.Type }

// TurnDoneEvent ends a turn with the assistant entry as recorded.
type TurnDoneEvent struct {
	eventBase
	RequestID      string           `json:"request_id,omitempty"`
	Entry          transcript.Entry `json:"entry"`
	ReasoningShown bool             `json:"reasoning_shown"`
	FaultKind      engine.FaultKind `json:"fault_kind,omitempty"`
	PromptTokens   int              `json:"prompt_tokens,omitempty"`
	OutputTokens   int              `json:"output_tokens,omitempty"`
}

// NewTurnDoneEvent constructs a turn_done event.
func NewTurnDoneEvent(sessionID, requestID string, res engine.TurnResult) TurnDoneEvent {
	e := TurnDoneEvent{
		eventBase:      eventBase{Type: EventTurnDone, SessionID: sessionID},
		RequestID:      requestID,
		Entry:          res.Entry(),
		ReasoningShown: res.ReasoningShown,
		PromptTokens:   res.Usage.Prompt,
		OutputTokens:   res.Usage.Completion,
	}
	if res.Fault != nil {
		e.FaultKind = res.Fault.Kind
	}
	return e
}

// GetType implements Event.
func (e TurnDoneEvent) GetType() EventType { return e.Type }

// SettingsEvent reports session settings.
type SettingsEvent struct {
	eventBase
	Model             string `json:"model"`
	ContextSize       int    `json:"context_size"`
	SystemPrompt      string `json:"system_prompt"`
	ReasoningEnabled  bool   `json:"reasoning_enabled"`
	SupportsReasoning bool   `json:"supports_reasoning"`
}

// NewSettingsEvent constructs a settings event.
func NewSettingsEvent(sessionID, model string, contextSize int, systemPrompt string, reasoningEnabled, supportsReasoning bool) SettingsEvent {
	return SettingsEvent{
		eventBase:         eventBase{Type: EventSettings, SessionID: sessionID},
		Model:             model,
		ContextSize:       contextSize,
		SystemPrompt:      systemPrompt,
		ReasoningEnabled:  reasoningEnabled,
		SupportsReasoning: supportsReasoning,
	}
}

// GetType implements Event.
func (e SettingsEvent) GetType() EventType { return e.Type }

// ModelInfo is the public view of a model profile.
type ModelInfo struct {
	ID                string `json:"id"`
	Provider          string `json:"provider"`
	SupportsReasoning bool   `json:"supports_reasoning"`
}

// ModelInfos converts profiles, dropping credentials and endpoints.
func ModelInfos(profiles []models.Profile) []ModelInfo {
	out := make([]ModelInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, ModelInfo{ID: p.ID, Provider: string(p.Provider), SupportsReasoning: p.SupportsReasoning})
	}
	return out
}

// ModelsEvent lists the configured models, default first.
type ModelsEvent struct {
	eventBase
	Models []ModelInfo `json:"models"`
}

// NewModelsEvent constructs a models event.
func NewModelsEvent(profiles []models.Profile) ModelsEvent {
	return ModelsEvent{
		eventBase: eventBase{Type: EventModels},
		Models:    ModelInfos(profiles),
	}
}

// GetType implements Event.
func (e ModelsEvent) GetType() EventType { return e.Type }

// ErrorEvent reports recoverable protocol or engine issues.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// NewErrorEvent constructs an error event.
func NewErrorEvent(sessionID, message, kind, details string) ErrorEvent {
	return ErrorEvent{
		eventBase: eventBase{Type: EventError, SessionID: sessionID},
		Message:   message,
		Kind:      kind,
		Details:   details,
	}
}

// GetType implements Event.
func (e ErrorEvent) GetType() EventType { return e.Type }

// CancelledEvent signals that a turn was abandoned on request.
type CancelledEvent struct {
	eventBase
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// NewCancelledEvent constructs a cancelled event.
func NewCancelledEvent(sessionID, requestID, reason string) CancelledEvent {
	return CancelledEvent{
		eventBase: eventBase{Type: EventCancelled, SessionID: sessionID},
		RequestID: requestID,
		Reason:    reason,
	}
}

// GetType implements Event.
func (e CancelledEvent) GetType() EventType { return e.Type }

// ConfigReloadedEvent signals that a new configuration is active.
type ConfigReloadedEvent struct {
	eventBase
	Models int `json:"models"`
}

// NewConfigReloadedEvent constructs a config_reloaded event.
func NewConfigReloadedEvent(modelCount int) ConfigReloadedEvent {
	return ConfigReloadedEvent{
		eventBase: eventBase{Type: EventConfigReloaded},
		Models:    modelCount,
	}
}

// GetType implements Event.
func (e ConfigReloadedEvent) GetType() EventType { return e.Type }
