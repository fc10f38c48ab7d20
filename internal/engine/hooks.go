// engine/hooks.go
package engine

import "context"

// Hook observes a turn. Hooks run on the producer goroutine and must not block.
type Hook interface {
	OnTurnStart(ctx context.Context, req TurnRequest)
	OnFragment(ctx context.Context, f Fragment)
	OnTurnDone(ctx context.Context, req TurnRequest, res TurnResult)
}

// NopHook lets you implement any hook you need.
type NopHook struct{}

func (NopHook) OnTurnStart(context.Context, TurnRequest)            {}
func (NopHook) OnFragment(context.Context, Fragment)                {}
func (NopHook) OnTurnDone(context.Context, TurnRequest, TurnResult) {}
