package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ChamsBouzaiene/dodochat/internal/engine"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIClient implements engine.LLMClient against any OpenAI-compatible chat
// completions endpoint. Reasoning arrives in the reasoning_content delta field,
// or in reasoning on endpoints that name it so.
type OpenAIClient struct {
	client  *openai.Client
	baseURL string
}

// NewOpenAIClient creates a new OpenAI-compatible client. A nil httpClient gets
// its own transport.
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client) (*OpenAIClient, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	config.HTTPClient = httpClient

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		baseURL: baseURL,
	}, nil
}

func toOpenAIMessages(messages []engine.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case engine.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case engine.RoleUser:
			role = openai.ChatMessageRoleUser
		case engine.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}

// Stream implements engine.LLMClient.Stream.
func (c *OpenAIClient) Stream(ctx context.Context, modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	eventCh := make(chan engine.StreamEvent, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(eventCh)

		req := openai.ChatCompletionRequest{
			Model:    modelName,
			Messages: toOpenAIMessages(messages),
			Stream:   true,
			StreamOptions: &openai.StreamOptions{
				IncludeUsage: true, // Include usage in final chunk
			},
		}
		if opts.MaxOutputTokens > 0 {
			req.MaxTokens = opts.MaxOutputTokens
		}
		if opts.Temperature > 0 {
			req.Temperature = &opts.Temperature
		}

		var reqOpts []openai.ChatCompletionRequestOption
		if opts.Reasoning {
			reqOpts = append(reqOpts, openai.WithRequestBodyModifier(enableThinking))
		}

		stream, err := c.client.CreateChatCompletionStream(ctx, req, reqOpts...)
		if err != nil {
			errCh <- wrapOpenAIError(err)
			return
		}
		defer stream.Close()

		send := func(ev engine.StreamEvent) bool {
			select {
			case eventCh <- ev:
				return true
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			}
		}

		var finalUsage engine.Usage
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- wrapOpenAIError(err)
				return
			}

			// The final chunk may carry usage and no choices.
			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				finalUsage = engine.Usage{
					Prompt:     response.Usage.PromptTokens,
					Completion: response.Usage.CompletionTokens,
					Total:      response.Usage.TotalTokens,
				}
			}
			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta
			reasoning := deltaReasoning(delta)
			if delta.Content == "" && reasoning == "" {
				continue
			}
			if !send(engine.StreamEvent{
				Type:      engine.EventDelta,
				Text:      delta.Content,
				Reasoning: reasoning,
			}) {
				return
			}
		}

		if finalUsage.Total > 0 {
			if !send(engine.StreamEvent{Type: engine.EventUsage, Usage: finalUsage}) {
				return
			}
		}
		// Signal successful completion
		errCh <- nil
	}()

	return eventCh, errCh
}

// enableThinking adds `"thinking": {"type": "enabled"}` to the request body
// unless the caller already set it.
func enableThinking(raw []byte) ([]byte, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if _, set := payload["thinking"]; set {
		return raw, nil
	}
	payload["thinking"] = json.RawMessage(`{"type":"enabled"}`)
	return json.Marshal(payload)
}

// deltaReasoning returns the reasoning text of a delta. reasoning_content wins;
// the reasoning field is read when it is absent.
func deltaReasoning(d openai.ChatCompletionStreamChoiceDelta) string {
	if d.ReasoningContent != "" {
		return d.ReasoningContent
	}
	raw, ok := d.ExtraFields["reasoning"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// wrapOpenAIError classifies an SDK error using the typed error when the SDK
// returns one.
func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		if apiErr.Message == "" {
			return engine.WrapLLMError(err, apiErr.HTTPStatusCode, code, "")
		}
		return engine.WrapLLMError(errors.New(apiErr.Message), apiErr.HTTPStatusCode, code, "")
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return engine.WrapLLMError(err, reqErr.HTTPStatusCode, "", "")
	}
	httpStatus, retryAfter := extractErrorMetadata(err)
	return engine.WrapLLMError(err, httpStatus, "", retryAfter)
}
