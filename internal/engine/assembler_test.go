package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/dodochat/internal/transcript"
)

func feedAll(a *Assembler, events ...StreamEvent) []Fragment {
	var out []Fragment
	for _, ev := range events {
		out = append(out, a.Feed(ev)...)
	}
	return append(out, a.Finish()...)
}

func TestAssemblerReasoningThenAnswer(t *testing.T) {
	a := NewAssembler(true)
	got := feedAll(a, reasoning("a"), reasoning("b"), answer("x"), answer("y"))

	want := []Fragment{
		{Kind: FragmentReasoningBegin, Text: ReasoningBeginText},
		{Kind: FragmentReasoning, Text: "a"},
		{Kind: FragmentReasoning, Text: "b"},
		{Kind: FragmentAnswerBegin, Text: AnswerBeginText},
		{Kind: FragmentAnswer, Text: "x"},
		{Kind: FragmentAnswer, Text: "y"},
	}
	assert.Equal(t, want, got)

	res := a.Result()
	assert.Equal(t, "ab", res.Reasoning)
	assert.Equal(t, "xy", res.Answer)
	assert.True(t, res.ReasoningShown)
	assert.Nil(t, res.Fault)
	assert.Equal(t, PhaseAnswer, a.Phase())
}

func TestAssemblerAnswerOnlyHasNoMarkers(t *testing.T) {
	a := NewAssembler(true)
	got := feedAll(a, answer("hello"), answer(" world"))

	for _, f := range got {
		assert.False(t, f.IsMarker(), "unexpected marker %q", f.Kind)
	}
	res := a.Result()
	assert.Equal(t, "hello world", res.Answer)
	assert.False(t, res.ReasoningShown)
	assert.Equal(t, "hello world", res.Entry().Content.Text())
}

func TestAssemblerDropsReasoningWhenDisabled(t *testing.T) {
	a := NewAssembler(false)
	got := feedAll(a, reasoning("hidden"), answer("x"))

	require.Len(t, got, 1)
	assert.Equal(t, Fragment{Kind: FragmentAnswer, Text: "x"}, got[0])
	res := a.Result()
	assert.Empty(t, res.Reasoning)
	assert.Equal(t, "x", res.Entry().Content.Text())
}

func TestAssemblerSingleEventCarriesBothChannels(t *testing.T) {
	a := NewAssembler(true)
	got := a.Feed(StreamEvent{Type: EventDelta, Reasoning: "r", Text: "t"})

	kinds := make([]FragmentKind, 0, len(got))
	for _, f := range got {
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []FragmentKind{FragmentReasoningBegin, FragmentReasoning, FragmentAnswerBegin, FragmentAnswer}, kinds)
}

func TestAssemblerLateReasoningHasNoMarker(t *testing.T) {
	a := NewAssembler(true)
	got := feedAll(a, reasoning("r1"), answer("x"), reasoning("r2"), answer("y"))

	markers := 0
	for _, f := range got {
		if f.IsMarker() {
			markers++
		}
	}
	assert.Equal(t, 2, markers)
	assert.Equal(t, "r1r2", a.Result().Reasoning)
	assert.Equal(t, "xy", a.Result().Answer)
}

func TestAssemblerClosesDanglingReasoning(t *testing.T) {
	a := NewAssembler(true)
	got := feedAll(a, reasoning("only thinking"))

	require.Len(t, got, 3)
	assert.Equal(t, FragmentReasoningClose, got[2].Kind)
	assert.Equal(t, ReasoningCloseText, got[2].Text)

	res := a.Result()
	assert.Equal(t, "only thinking", res.Reasoning)
	assert.Empty(t, res.Answer)
	// The record still follows the codec rule, not the display marker.
	entry := res.Entry().Content.Text()
	assert.Equal(t, transcript.Encode("only thinking", "", true), entry)
	assert.NotContains(t, entry, strings.TrimSpace(ReasoningCloseText))
}

func TestAssemblerFailReplacesAnswer(t *testing.T) {
	a := NewAssembler(true)
	a.Feed(reasoning("thinking"))
	a.Feed(answer("partial"))

	f := a.Fail(&Fault{Kind: FaultAuth, Err: errors.New("401")})
	assert.Equal(t, Fragment{Kind: FragmentError, Text: MsgAuthFault}, f)

	res := a.Result()
	assert.Equal(t, MsgAuthFault, res.Answer)
	assert.Empty(t, res.Reasoning)
	assert.False(t, res.ReasoningShown)
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultAuth, res.Fault.Kind)

	entry := res.Entry().Content.Text()
	assert.Equal(t, MsgAuthFault, entry)
	assert.NotContains(t, entry, transcript.ReasoningMarker)
	assert.NotContains(t, entry, transcript.AnswerMarker)

	// A finished turn ignores further input.
	assert.Nil(t, a.Feed(answer("late")))
	assert.Nil(t, a.Finish())
}

func TestAssemblerRecordsUsage(t *testing.T) {
	a := NewAssembler(false)
	out := a.Feed(StreamEvent{Type: EventUsage, Usage: Usage{Prompt: 3, Completion: 4, Total: 7}})
	assert.Empty(t, out)
	assert.Equal(t, 7, a.Result().Usage.Total)
}

func TestDisplayCumulative(t *testing.T) {
	var d Display
	assert.Equal(t, ReasoningBeginText, d.Apply(Fragment{Kind: FragmentReasoningBegin, Text: ReasoningBeginText}))
	assert.Equal(t, ReasoningBeginText+"a", d.Apply(Fragment{Kind: FragmentReasoning, Text: "a"}))
	assert.Equal(t, MsgThrottleFault, d.Apply(Fragment{Kind: FragmentError, Text: MsgThrottleFault}))
	assert.Equal(t, MsgThrottleFault, d.String())
}
