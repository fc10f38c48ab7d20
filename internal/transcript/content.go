package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PartKindText is the only part kind that carries conversational text.
const PartKindText = "text"

// Part is one typed fragment of structured message content.
type Part struct {
	Kind string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Content is either plain text or an ordered list of typed parts. Some front-ends
// send message content as a string, others as a list of parts; both decode here.
type Content struct {
	plain      string
	parts      []Part
	structured bool
}

// PlainText wraps a string as content.
func PlainText(s string) Content {
	return Content{plain: s}
}

// StructuredParts wraps typed parts as content.
func StructuredParts(parts ...Part) Content {
	return Content{parts: parts, structured: true}
}

// IsStructured reports whether the content is a list of parts.
func (c Content) IsStructured() bool {
	return c.structured
}

// Parts returns the typed parts, or a single text part for plain content.
func (c Content) Parts() []Part {
	if !c.structured {
		return []Part{{Kind: PartKindText, Text: c.plain}}
	}
	out := make([]Part, len(c.parts))
	copy(out, c.parts)
	return out
}

// Text normalises the content to a single string. For structured content only
// text parts are kept, concatenated in order.
func (c Content) Text() string {
	if !c.structured {
		return c.plain
	}
	var b strings.Builder
	for _, p := range c.parts {
		if p.Kind == PartKindText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// MarshalJSON encodes plain content as a JSON string and structured content as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.structured {
		if c.parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.plain)
}

// UnmarshalJSON accepts a JSON string, an array of parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = Content{}
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode text content: %w", err)
		}
		*c = PlainText(s)
		return nil
	case '[':
		var parts []Part
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return fmt.Errorf("decode content parts: %w", err)
		}
		*c = StructuredParts(parts...)
		return nil
	default:
		return fmt.Errorf("unsupported content shape: %s", truncate(string(trimmed), 40))
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
