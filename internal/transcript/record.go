package transcript

// Role tags a transcript entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one item of the externally visible chat history.
type Entry struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// TurnRecord is one completed message of a turn. Reasoning is nil when no
// reasoning was shown for the turn.
type TurnRecord struct {
	Role      Role
	Reasoning *string
	Answer    string
}

// UserRecord builds the record of a user message.
func UserRecord(message string) TurnRecord {
	return TurnRecord{Role: RoleUser, Answer: message}
}

// AssistantRecord builds the record of an assistant reply. Reasoning is kept only
// when it was shown.
func AssistantRecord(reasoning, answer string, reasoningShown bool) TurnRecord {
	rec := TurnRecord{Role: RoleAssistant, Answer: answer}
	if reasoningShown && reasoning != "" {
		rec.Reasoning = &reasoning
	}
	return rec
}

// Entry encodes the record into its flat history form.
func (r TurnRecord) Entry() Entry {
	if r.Reasoning == nil {
		return Entry{Role: r.Role, Content: PlainText(r.Answer)}
	}
	return Entry{Role: r.Role, Content: PlainText(Encode(*r.Reasoning, r.Answer, true))}
}

// Transcript is the ordered, append-only record of a session. It is not safe for
// concurrent use; the owning session serialises access.
type Transcript struct {
	records []TurnRecord
}

// Append adds records in order.
func (t *Transcript) Append(recs ...TurnRecord) {
	t.records = append(t.records, recs...)
}

// Records returns a copy of the records.
func (t *Transcript) Records() []TurnRecord {
	out := make([]TurnRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Entries encodes every record into history entries.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r.Entry())
	}
	return out
}

// Len returns the number of records.
func (t *Transcript) Len() int {
	return len(t.records)
}

// Reset drops every record.
func (t *Transcript) Reset() {
	t.records = nil
}
