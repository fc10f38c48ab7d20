package engine

import "context"

// MockLLM replays scripted events and then reports err.
type MockLLM struct {
	Events []StreamEvent
	Err    error

	gotModel string
	gotMsgs  []ChatMessage
	gotOpts  ChatOptions
}

func (m *MockLLM) Stream(ctx context.Context, model string, msgs []ChatMessage, opts ChatOptions) (<-chan StreamEvent, <-chan error) {
	m.gotModel, m.gotMsgs, m.gotOpts = model, msgs, opts
	events := make(chan StreamEvent)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(events)
		for _, ev := range m.Events {
			select {
			case events <- ev:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		errs <- m.Err
	}()
	return events, errs
}

func reasoning(s string) StreamEvent { return StreamEvent{Type: EventDelta, Reasoning: s} }
func answer(s string) StreamEvent    { return StreamEvent{Type: EventDelta, Text: s} }
