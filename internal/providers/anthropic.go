package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ChamsBouzaiene/dodochat/internal/engine"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

const (
	anthropicMaxTokens   = 4096
	anthropicTemperature = float32(0.7)
)

// AnthropicClient implements engine.LLMClient by calling the Anthropic Messages
// API. Reasoning arrives as thinking deltas.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client. A nil httpClient gets its
// own transport.
func NewAnthropicClient(apiKey, baseURL string, httpClient *http.Client) (*AnthropicClient, error) {
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(apiKey, opts...),
	}, nil
}

func toAnthropicMessages(messages []engine.ChatMessage) ([]anthropic.MessageSystemPart, []anthropic.Message) {
	var systemParts []anthropic.MessageSystemPart
	var msgs []anthropic.Message
	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			if msg.Content == "" {
				continue
			}
			systemParts = append(systemParts, anthropic.MessageSystemPart{
				Type: "text",
				Text: msg.Content,
			})
		case engine.RoleUser:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		case engine.RoleAssistant:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		}
	}
	return systemParts, msgs
}

// Stream implements engine.LLMClient.Stream. The SDK drives callbacks while
// CreateMessagesStream runs, so all sends happen on this goroutine.
func (c *AnthropicClient) Stream(ctx context.Context, modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	eventCh := make(chan engine.StreamEvent, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(eventCh)

		systemParts, msgs := toAnthropicMessages(messages)

		maxTokens := anthropicMaxTokens
		if opts.MaxOutputTokens > 0 {
			maxTokens = opts.MaxOutputTokens
		}

		req := anthropic.MessagesStreamRequest{
			MessagesRequest: anthropic.MessagesRequest{
				Model:     anthropic.Model(modelName),
				Messages:  msgs,
				MaxTokens: maxTokens,
			},
		}
		if len(systemParts) > 0 {
			req.MultiSystem = systemParts
		}

		if opts.Reasoning {
			budget := opts.ReasoningBudget
			if budget <= 0 {
				budget = 1024
			}
			// The budget must stay below max_tokens, and thinking runs at the
			// default temperature.
			if req.MaxTokens <= budget {
				req.MaxTokens = budget + anthropicMaxTokens
			}
			req.Thinking = &anthropic.Thinking{
				Type:         anthropic.ThinkingTypeEnabled,
				BudgetTokens: budget,
			}
		} else {
			temperature := anthropicTemperature
			if opts.Temperature > 0 {
				temperature = opts.Temperature
			}
			req.Temperature = &temperature
		}

		var streamErr error
		abandoned := false
		send := func(ev engine.StreamEvent) {
			if abandoned {
				return
			}
			select {
			case eventCh <- ev:
			case <-ctx.Done():
				abandoned = true
			}
		}

		req.OnError = func(errResp anthropic.ErrorResponse) {
			errType := string(errResp.Error.Type)
			streamErr = engine.WrapLLMError(
				fmt.Errorf("anthropic streaming error: %s", errResp.Error.Message),
				anthropicErrorStatus(errType), errType, "")
		}

		req.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
			switch delta.Delta.Type {
			case "text_delta":
				if delta.Delta.Text != nil && *delta.Delta.Text != "" {
					send(engine.StreamEvent{Type: engine.EventDelta, Text: *delta.Delta.Text})
				}
			case "thinking_delta":
				if t := delta.Delta.MessageContentThinking; t != nil && t.Thinking != "" {
					send(engine.StreamEvent{Type: engine.EventDelta, Reasoning: t.Thinking})
				}
			}
		}

		resp, err := c.client.CreateMessagesStream(ctx, req)
		switch {
		case abandoned:
			errCh <- ctx.Err()
			return
		case streamErr != nil:
			errCh <- streamErr
			return
		case err != nil:
			errCh <- wrapAnthropicError(err)
			return
		}

		if resp.Usage.InputTokens > 0 {
			send(engine.StreamEvent{
				Type: engine.EventUsage,
				Usage: engine.Usage{
					Prompt:     resp.Usage.InputTokens,
					Completion: resp.Usage.OutputTokens,
					Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
				},
			})
		}
		if abandoned {
			errCh <- ctx.Err()
			return
		}
		errCh <- nil
	}()

	return eventCh, errCh
}

// anthropicErrorStatus maps Anthropic error types onto the HTTP status they are
// served with.
func anthropicErrorStatus(errType string) int {
	switch errType {
	case "authentication_error":
		return http.StatusUnauthorized
	case "permission_error":
		return http.StatusForbidden
	case "rate_limit_error":
		return http.StatusTooManyRequests
	case "invalid_request_error":
		return http.StatusBadRequest
	case "not_found_error":
		return http.StatusNotFound
	case "overloaded_error":
		return 529
	case "api_error":
		return http.StatusInternalServerError
	}
	return 0
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		errType := string(apiErr.Type)
		return engine.WrapLLMError(errors.New(apiErr.Message), anthropicErrorStatus(errType), errType, "")
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return engine.WrapLLMError(err, reqErr.StatusCode, "", "")
	}
	httpStatus, retryAfter := extractErrorMetadata(err)
	return engine.WrapLLMError(err, httpStatus, "", retryAfter)
}
