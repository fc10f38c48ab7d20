package engine

import (
	"strings"

	"github.com/ChamsBouzaiene/dodochat/internal/transcript"
)

// Phase is the channel state of a turn.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseReasoning  Phase = "reasoning"
	PhaseAnswer     Phase = "answer"
)

// FragmentKind tags a display fragment.
type FragmentKind string

const (
	FragmentReasoningBegin FragmentKind = "reasoning_begin"
	FragmentReasoning      FragmentKind = "reasoning"
	FragmentAnswerBegin    FragmentKind = "answer_begin"
	FragmentAnswer         FragmentKind = "answer"
	FragmentReasoningClose FragmentKind = "reasoning_close"
	FragmentError          FragmentKind = "error"
)

// Display marker texts.
const (
	ReasoningBeginText = transcript.ReasoningMarker + "\n\n"
	AnswerBeginText    = "\n\n" + transcript.AnswerMarker + "\n\n"
	ReasoningCloseText = "\n\n--- 正式回复 ---\n\n"
)

// Fragment is one piece of display output, in arrival order.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// IsMarker reports whether the fragment is a channel marker rather than content.
func (f Fragment) IsMarker() bool {
	switch f.Kind {
	case FragmentReasoningBegin, FragmentAnswerBegin, FragmentReasoningClose:
		return true
	}
	return false
}

// TurnResult is the outcome of one assistant turn.
type TurnResult struct {
	Reasoning      string
	Answer         string
	ReasoningShown bool
	Fault          *Fault
	Usage          Usage
}

// Record is the transcript record of the assistant reply.
func (r TurnResult) Record() transcript.TurnRecord {
	return transcript.AssistantRecord(r.Reasoning, r.Answer, r.ReasoningShown)
}

// Entry is the encoded history entry of the assistant reply.
func (r TurnResult) Entry() transcript.Entry {
	return r.Record().Entry()
}

// Assembler converts stream events of one turn into display fragments and
// accumulates the reasoning and answer channels. It is used by a single
// goroutine.
type Assembler struct {
	reasoningEnabled bool
	phase            Phase
	reasoning        strings.Builder
	answer           strings.Builder
	fault            *Fault
	usage            Usage
	done             bool
}

// NewAssembler starts a turn. Reasoning fragments are dropped unless
// reasoningEnabled is set.
func NewAssembler(reasoningEnabled bool) *Assembler {
	return &Assembler{reasoningEnabled: reasoningEnabled, phase: PhaseNotStarted}
}

// Phase returns the current channel state.
func (a *Assembler) Phase() Phase {
	return a.phase
}

// Feed consumes one event. The reasoning fragment of an event is emitted before
// its answer fragment.
func (a *Assembler) Feed(ev StreamEvent) []Fragment {
	if a.done {
		return nil
	}
	switch ev.Type {
	case EventUsage:
		a.usage = ev.Usage
		return nil
	case EventDelta, "":
	default:
		return nil
	}

	var out []Fragment
	if ev.Reasoning != "" && a.reasoningEnabled {
		if a.phase == PhaseNotStarted {
			a.phase = PhaseReasoning
			out = append(out, Fragment{Kind: FragmentReasoningBegin, Text: ReasoningBeginText})
		}
		// Late reasoning after the answer started is kept without a marker.
		a.reasoning.WriteString(ev.Reasoning)
		out = append(out, Fragment{Kind: FragmentReasoning, Text: ev.Reasoning})
	}
	if ev.Text != "" {
		switch a.phase {
		case PhaseReasoning:
			a.phase = PhaseAnswer
			out = append(out, Fragment{Kind: FragmentAnswerBegin, Text: AnswerBeginText})
		case PhaseNotStarted:
			a.phase = PhaseAnswer
		}
		a.answer.WriteString(ev.Text)
		out = append(out, Fragment{Kind: FragmentAnswer, Text: ev.Text})
	}
	return out
}

// Finish ends a stream that completed normally. A turn that never left the
// reasoning channel gets a display-only closing marker.
func (a *Assembler) Finish() []Fragment {
	if a.done {
		return nil
	}
	a.done = true
	if a.phase == PhaseReasoning {
		return []Fragment{{Kind: FragmentReasoningClose, Text: ReasoningCloseText}}
	}
	return nil
}

// Fail ends the turn with a fault. The error text replaces the whole answer and
// the reasoning is discarded.
func (a *Assembler) Fail(err error) Fragment {
	f := AsFault(err)
	msg := f.UserMessage()
	a.done = true
	a.fault = f
	a.reasoning.Reset()
	a.answer.Reset()
	a.answer.WriteString(msg)
	return Fragment{Kind: FragmentError, Text: msg}
}

// Result returns the accumulated channels.
func (a *Assembler) Result() TurnResult {
	res := TurnResult{
		Reasoning: a.reasoning.String(),
		Answer:    a.answer.String(),
		Fault:     a.fault,
		Usage:     a.usage,
	}
	res.ReasoningShown = a.fault == nil && a.reasoningEnabled && res.Reasoning != ""
	return res
}

// Display accumulates fragments into the cumulative text a renderer shows.
type Display struct {
	b strings.Builder
}

// Apply adds a fragment and returns the cumulative text. An error fragment
// replaces everything shown so far.
func (d *Display) Apply(f Fragment) string {
	if f.Kind == FragmentError {
		d.b.Reset()
	}
	d.b.WriteString(f.Text)
	return d.b.String()
}

// String returns the cumulative text.
func (d *Display) String() string {
	return d.b.String()
}
