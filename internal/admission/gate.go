// Package admission bounds how many turns run against the providers at once and
// how many may wait for a slot.
package admission

import (
	"context"
	"errors"
	"sync"
)

// Defaults used when the configuration leaves a limit unset.
const (
	DefaultMaxInFlight = 8
	DefaultMaxBacklog  = 32
)

// ErrBacklogFull is returned when no waiting slot is left.
var ErrBacklogFull = errors.New("admission backlog is full")

// Gate admits submissions: at most maxInFlight hold a slot and at most
// maxBacklog wait for one. Excess submissions are rejected at once.
type Gate struct {
	inFlight chan struct{}
	backlog  chan struct{}
}

// NewGate builds a gate. Non-positive limits take the defaults.
func NewGate(maxInFlight, maxBacklog int) *Gate {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	if maxBacklog <= 0 {
		maxBacklog = DefaultMaxBacklog
	}
	return &Gate{
		inFlight: make(chan struct{}, maxInFlight),
		backlog:  make(chan struct{}, maxBacklog),
	}
}

// Acquire waits for an in-flight slot. The returned release must be called
// exactly once when the turn ends.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	// Fast path: a free slot needs no backlog entry.
	select {
	case g.inFlight <- struct{}{}:
		return g.releaser(), nil
	default:
	}

	select {
	case g.backlog <- struct{}{}:
	default:
		return nil, ErrBacklogFull
	}
	defer func() { <-g.backlog }()

	select {
	case g.inFlight <- struct{}{}:
		return g.releaser(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gate) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-g.inFlight })
	}
}

// InFlight returns the number of admitted submissions.
func (g *Gate) InFlight() int {
	return len(g.inFlight)
}

// Waiting returns the number of queued submissions.
func (g *Gate) Waiting() int {
	return len(g.backlog)
}
