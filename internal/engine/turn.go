package engine

import (
	"context"
	"errors"
	"sync"
)

// fragmentBuffer bounds how far the network reader may run ahead of the renderer.
const fragmentBuffer = 16

// TurnRequest is everything a turn needs to call the provider.
type TurnRequest struct {
	Model    string
	Messages []ChatMessage
	Options  ChatOptions
	Hooks    Hooks
}

// Turn is one in-flight assistant reply. Fragments must be read by a single
// consumer until the channel is closed; Wait then returns the result.
type Turn struct {
	frags  chan Fragment
	done   chan struct{}
	once   sync.Once
	result TurnResult
}

// StartTurn launches the producer goroutine for one turn. It never fails: every
// fault is delivered as an error fragment. Cancelling ctx abandons the turn.
func StartTurn(ctx context.Context, llm LLMClient, req TurnRequest) *Turn {
	t := &Turn{
		frags: make(chan Fragment, fragmentBuffer),
		done:  make(chan struct{}),
	}
	go t.run(ctx, llm, req)
	return t
}

// Fragments returns the display fragments in arrival order.
func (t *Turn) Fragments() <-chan Fragment {
	return t.frags
}

// Wait blocks until the producer has finished.
func (t *Turn) Wait() TurnResult {
	<-t.done
	return t.result
}

// Done is closed once the result is available.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

func (t *Turn) run(ctx context.Context, llm LLMClient, req TurnRequest) {
	hooks := req.Hooks
	asm := NewAssembler(req.Options.Reasoning)
	defer func() {
		t.result = asm.Result()
		hooks.OnTurnDone(ctx, req, t.result)
		close(t.frags)
		close(t.done)
	}()

	hooks.OnTurnStart(ctx, req)

	emit := func(frags ...Fragment) bool {
		for _, f := range frags {
			select {
			case t.frags <- f:
				hooks.OnFragment(ctx, f)
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	fail := func(err error) {
		emit(asm.Fail(err))
	}

	if llm == nil {
		fail(&Fault{Kind: FaultProvider, Err: errors.New("no model client configured")})
		return
	}

	deltaCh, errCh := llm.Stream(ctx, req.Model, req.Messages, req.Options)
	for deltaCh != nil || errCh != nil {
		select {
		case ev, ok := <-deltaCh:
			if !ok {
				deltaCh = nil
				continue
			}
			if !emit(asm.Feed(ev)...) {
				asm.Fail(ctx.Err())
				return
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				// Events already queued before the fault are dropped with the
				// rest of the turn.
				fail(err)
				return
			}
			// Received nil - successful completion
			errCh = nil
		case <-ctx.Done():
			asm.Fail(ctx.Err())
			return
		}
	}

	emit(asm.Finish()...)
}
