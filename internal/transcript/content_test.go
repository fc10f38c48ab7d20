package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentUnmarshal(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		wantText       string
		wantStructured bool
	}{
		{name: "string", raw: `"hello"`, wantText: "hello"},
		{name: "null", raw: `null`, wantText: ""},
		{name: "parts", raw: `[{"type":"text","text":"a"},{"type":"image_url"},{"type":"text","text":"b"}]`, wantText: "ab", wantStructured: true},
		{name: "empty parts", raw: `[]`, wantText: "", wantStructured: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &c))
			assert.Equal(t, tt.wantText, c.Text())
			assert.Equal(t, tt.wantStructured, c.IsStructured())
		})
	}
}

func TestContentUnmarshalRejectsObjects(t *testing.T) {
	var c Content
	assert.Error(t, json.Unmarshal([]byte(`{"text":"x"}`), &c))
}

func TestEntryJSONShapes(t *testing.T) {
	var entries []Entry
	raw := `[{"role":"user","content":"hi"},{"role":"assistant","content":[{"type":"text","text":"hello"}]}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, RoleUser, entries[0].Role)
	assert.Equal(t, "hello", entries[1].Content.Text())

	out, err := json.Marshal(entries)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestTranscriptEntries(t *testing.T) {
	var tr Transcript
	tr.Append(
		UserRecord("question"),
		AssistantRecord("ab", "xy", true),
		UserRecord("again"),
		AssistantRecord("hidden", "plain", false),
	)
	require.Equal(t, 4, tr.Len())

	entries := tr.Entries()
	assert.Equal(t, "question", entries[0].Content.Text())
	assert.Equal(t, Encode("ab", "xy", true), entries[1].Content.Text())
	assert.Equal(t, "plain", entries[3].Content.Text())
	assert.Nil(t, tr.Records()[3].Reasoning)

	tr.Reset()
	assert.Zero(t, tr.Len())
	assert.Empty(t, tr.Entries())
}
