package engine

import "context"

type Hooks []Hook

func (hs Hooks) OnTurnStart(ctx context.Context, req TurnRequest) {
	for _, h := range hs {
		h.OnTurnStart(ctx, req)
	}
}
func (hs Hooks) OnFragment(ctx context.Context, f Fragment) {
	for _, h := range hs {
		h.OnFragment(ctx, f)
	}
}
func (hs Hooks) OnTurnDone(ctx context.Context, req TurnRequest, res TurnResult) {
	for _, h := range hs {
		h.OnTurnDone(ctx, req, res)
	}
}
