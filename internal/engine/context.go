package engine

import (
	"strings"

	"github.com/ChamsBouzaiene/dodochat/internal/transcript"
)

// ContextParams are the session settings the builder needs.
type ContextParams struct {
	SystemPrompt string
	ContextTurns int
}

// BuildContext assembles the request messages for the next turn: the system
// prompt, the last ContextTurns rounds of history (oldest first, answers only)
// and the current user message. Reasoning never reaches the result.
func BuildContext(p ContextParams, history []transcript.Entry, current string) []ChatMessage {
	window := lastRounds(len(history), p.ContextTurns)
	msgs := make([]ChatMessage, 0, len(history)-window+2)
	msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: p.SystemPrompt})
	for _, e := range history[window:] {
		text := e.Content.Text()
		if e.Role == transcript.RoleAssistant {
			text = transcript.DecodeContent(e.Content).Answer
		}
		msgs = appendTurnMessage(msgs, e.Role, text)
	}
	return append(msgs, ChatMessage{Role: RoleUser, Content: current})
}

// BuildContextFromRecords is BuildContext over logical records. The answer
// channel is already separate there, so nothing is decoded.
func BuildContextFromRecords(p ContextParams, records []transcript.TurnRecord, current string) []ChatMessage {
	window := lastRounds(len(records), p.ContextTurns)
	msgs := make([]ChatMessage, 0, len(records)-window+2)
	msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: p.SystemPrompt})
	for _, r := range records[window:] {
		msgs = appendTurnMessage(msgs, r.Role, r.Answer)
	}
	return append(msgs, ChatMessage{Role: RoleUser, Content: current})
}

// lastRounds returns the index of the first entry inside the context window.
func lastRounds(n, turns int) int {
	if turns < 1 {
		turns = 1
	}
	if limit := 2 * turns; n > limit {
		return n - limit
	}
	return 0
}

func appendTurnMessage(msgs []ChatMessage, role transcript.Role, text string) []ChatMessage {
	if strings.TrimSpace(text) == "" {
		return msgs
	}
	switch role {
	case transcript.RoleUser:
		return append(msgs, ChatMessage{Role: RoleUser, Content: text})
	case transcript.RoleAssistant:
		return append(msgs, ChatMessage{Role: RoleAssistant, Content: text})
	}
	return msgs
}
