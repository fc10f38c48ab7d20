// Package transcript encodes the reasoning and answer channels of a turn into a
// single flat history entry and decodes them back when rebuilding context.
package transcript

import "strings"

// Section markers of the current protocol.
const (
	ReasoningMarker = ">> ## 思考过程"
	AnswerMarker    = ">> ## 完整回复"
)

// Legacy markers. Older transcripts wrapped the reasoning in a details block.
const (
	LegacyReasoningMarker = "<details>"
	LegacyAnswerMarker    = "</details>"
)

const (
	legacySummaryOpen  = "<summary>"
	legacySummaryClose = "</summary>"
)

// Decoded is the logical view of an encoded entry. Reasoning is nil when the entry
// carried no reasoning section.
type Decoded struct {
	Reasoning *string
	Answer    string
}

// Encode flattens a turn into one entry. The answer is returned untouched when
// there is no reasoning or reasoning is switched off.
func Encode(reasoning, answer string, reasoningEnabled bool) string {
	if reasoning == "" || !reasoningEnabled {
		return answer
	}
	var b strings.Builder
	b.Grow(len(ReasoningMarker) + len(reasoning) + len(AnswerMarker) + len(answer) + 8)
	b.WriteString(ReasoningMarker)
	b.WriteString("\n\n")
	b.WriteString(reasoning)
	b.WriteString("\n\n")
	b.WriteString(AnswerMarker)
	b.WriteString("\n\n")
	b.WriteString(answer)
	return b.String()
}

// Decode splits an entry at the last answer marker. Content may legitimately
// contain earlier copies of the marker, so the last occurrence wins.
func Decode(entry string) Decoded {
	if idx := strings.LastIndex(entry, AnswerMarker); idx >= 0 {
		before := strings.Replace(entry[:idx], ReasoningMarker, "", 1)
		reasoning := strings.TrimSpace(before)
		return Decoded{
			Reasoning: &reasoning,
			Answer:    strings.TrimSpace(entry[idx+len(AnswerMarker):]),
		}
	}

	if strings.Contains(entry, LegacyReasoningMarker) {
		idx := strings.LastIndex(entry, LegacyAnswerMarker)
		if idx < 0 {
			return Decoded{Answer: strings.TrimSpace(entry)}
		}
		reasoning := legacyReasoning(entry[:idx])
		return Decoded{
			Reasoning: &reasoning,
			Answer:    strings.TrimSpace(entry[idx+len(LegacyAnswerMarker):]),
		}
	}

	return Decoded{Answer: entry}
}

// DecodeContent normalises content and decodes it.
func DecodeContent(c Content) Decoded {
	return Decode(c.Text())
}

func legacyReasoning(s string) string {
	if idx := strings.Index(s, LegacyReasoningMarker); idx >= 0 {
		s = s[idx+len(LegacyReasoningMarker):]
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, legacySummaryOpen) {
		if end := strings.Index(s, legacySummaryClose); end >= 0 {
			s = s[end+len(legacySummaryClose):]
		}
	}
	return strings.TrimSpace(s)
}
