package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, turn *Turn) []Fragment {
	t.Helper()
	var out []Fragment
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-turn.Fragments():
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatal("turn did not finish")
			return out
		}
	}
}

func TestStartTurnStreamsInOrder(t *testing.T) {
	llm := &MockLLM{Events: []StreamEvent{reasoning("a"), reasoning("b"), answer("x"), answer("y")}}
	req := TurnRequest{
		Model:    "m1",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
		Options:  ChatOptions{Reasoning: true},
	}

	turn := StartTurn(context.Background(), llm, req)
	frags := collect(t, turn)
	res := turn.Wait()

	require.Len(t, frags, 6)
	assert.Equal(t, FragmentReasoningBegin, frags[0].Kind)
	assert.Equal(t, FragmentAnswerBegin, frags[3].Kind)
	assert.Equal(t, "ab", res.Reasoning)
	assert.Equal(t, "xy", res.Answer)
	assert.Equal(t, "m1", llm.gotModel)
	assert.True(t, llm.gotOpts.Reasoning)
}

func TestStartTurnAuthFault(t *testing.T) {
	llm := &MockLLM{
		Events: []StreamEvent{reasoning("partial")},
		Err:    WrapLLMError(errors.New("invalid api key"), 401, "invalid_api_key", ""),
	}
	turn := StartTurn(context.Background(), llm, TurnRequest{Model: "m", Options: ChatOptions{Reasoning: true}})
	frags := collect(t, turn)
	res := turn.Wait()

	last := frags[len(frags)-1]
	assert.Equal(t, FragmentError, last.Kind)
	assert.Equal(t, MsgAuthFault, last.Text)
	assert.Equal(t, MsgAuthFault, res.Answer)
	assert.Empty(t, res.Reasoning)
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultAuth, res.Fault.Kind)
}

func TestStartTurnNilClient(t *testing.T) {
	turn := StartTurn(context.Background(), nil, TurnRequest{})
	frags := collect(t, turn)
	require.Len(t, frags, 1)
	assert.Equal(t, FragmentError, frags[0].Kind)
	assert.NotNil(t, turn.Wait().Fault)
}

func TestStartTurnAbandoned(t *testing.T) {
	events := make([]StreamEvent, 100)
	for i := range events {
		events[i] = answer("x")
	}
	ctx, cancel := context.WithCancel(context.Background())
	turn := StartTurn(ctx, &MockLLM{Events: events}, TurnRequest{})

	// Read one fragment, then walk away.
	<-turn.Fragments()
	cancel()

	select {
	case <-turn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not exit after cancel")
	}
	assert.NotNil(t, turn.Wait().Fault)
}

type recordingHook struct {
	NopHook
	mu      sync.Mutex
	started int
	frags   int
	done    []TurnResult
}

func (h *recordingHook) OnTurnStart(context.Context, TurnRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started++
}

func (h *recordingHook) OnFragment(context.Context, Fragment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frags++
}

func (h *recordingHook) OnTurnDone(_ context.Context, _ TurnRequest, res TurnResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = append(h.done, res)
}

func TestStartTurnRunsHooks(t *testing.T) {
	h := &recordingHook{}
	llm := &MockLLM{Events: []StreamEvent{answer("a"), answer("b")}}
	turn := StartTurn(context.Background(), llm, TurnRequest{Hooks: Hooks{h}})
	collect(t, turn)
	turn.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.started)
	assert.Equal(t, 2, h.frags)
	require.Len(t, h.done, 1)
	assert.Equal(t, "ab", h.done[0].Answer)
}
