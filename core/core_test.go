package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain string", `"hello"`, "hello"},
		{"empty", ``, ""},
		{"null", `null`, ""},
		{"part list", `[{"type":"text","text":"hello"},{"type":"text","text":"world"}]`, "hello world"},
		{"mixed list", `["hello",{"text":"world"},{"type":"audio"}]`, "hello world"},
		{"single object", `{"type":"text","text":"hi"}`, "hi"},
		{"object without text", `{"type":"audio","data":"xx"}`, ""},
		{"number", `42`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentText(json.RawMessage(tt.raw)))
		})
	}
}

func TestMessageNormalize(t *testing.T) {
	turn := int64(3)
	m := Message{
		Role:     "user",
		Content:  json.RawMessage(`"hi"`),
		Metadata: json.RawMessage(`{"session_id":"s1"}`),
		TurnID:   &turn,
	}

	n := m.Normalize()
	assert.Equal(t, "user", n.Role)
	assert.Equal(t, "hi", n.ContentText())
	assert.Nil(t, n.Metadata)
	assert.Nil(t, n.TurnID)

	b, err := json.Marshal(n)
	assert.NoError(t, err)
	assert.NotContains(t, string(b), "metadata")
	assert.NotContains(t, string(b), "turn_id")
}

func TestChunkFraming(t *testing.T) {
	ck := NewChunk("gpt-4o-mini")
	ck.Delta().Role = "assistant"

	b, err := json.Marshal(ck)
	assert.NoError(t, err)
	// finish_reason must serialize as explicit null until set.
	assert.Contains(t, string(b), `"finish_reason":null`)
	assert.Contains(t, string(b), `"object":"chat.completion.chunk"`)

	ck.SetFinishReason("stop")
	b, err = json.Marshal(ck)
	assert.NoError(t, err)
	assert.Contains(t, string(b), `"finish_reason":"stop"`)
}

func TestChunkDecode(t *testing.T) {
	raw := `{"id":"x","object":"chat.completion.chunk","created":1,"model":"m",` +
		`"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1",` +
		`"type":"function","function":{"name":"ping","arguments":"{}"}}]},"finish_reason":null}]}`

	var ck Chunk
	assert.NoError(t, json.Unmarshal([]byte(raw), &ck))
	assert.Len(t, ck.Choices, 1)
	tc := ck.Choices[0].Delta.ToolCalls[0]
	assert.NotNil(t, tc.Index)
	assert.EqualValues(t, 0, *tc.Index)
	assert.Equal(t, "ping", tc.Function.Name)
	assert.Nil(t, ck.Choices[0].FinishReason)
}
