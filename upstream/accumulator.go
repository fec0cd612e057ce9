package upstream

import (
	"encoding/json"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/voiceline/checkgate/core"
)

// partialCall aggregates tool call fragments (id, type, name, argument text)
// arriving at one stream index until finalization.
type partialCall struct {
	id   string
	typ  string
	name string
	args string
}

// Accumulator folds streamed deltas into one complete assistant message:
// role is set once, content concatenates in arrival order, tool-call
// fragments merge by positional index, audio fragments union shallowly, and
// the finish reason keeps the last value seen.
type Accumulator struct {
	role    string
	content string
	calls   map[int64]*partialCall
	audio   map[string]json.RawMessage
	finish  string
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: map[int64]*partialCall{}}
}

// Apply folds one streamed chunk's first choice into the accumulator.
func (a *Accumulator) Apply(ck core.Chunk) {
	if len(ck.Choices) == 0 {
		return
	}
	choice := ck.Choices[0]
	delta := choice.Delta

	if delta.Role != "" {
		a.role = delta.Role
	}
	if delta.Content != nil {
		a.content = appendText(a.content, delta.Content)
	}
	for _, frag := range delta.ToolCalls {
		a.applyToolCall(frag)
	}
	if delta.Audio != nil {
		a.mergeAudio(delta.Audio)
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		a.finish = *choice.FinishReason
	}
}

func (a *Accumulator) applyToolCall(frag core.ToolCallDelta) {
	idx := int64(len(a.calls))
	if frag.Index != nil && *frag.Index >= 0 {
		idx = *frag.Index
	}

	call, ok := a.calls[idx]
	if !ok {
		call = &partialCall{typ: "function"}
		a.calls[idx] = call
	}

	if frag.ID != "" {
		call.id = frag.ID
	}
	if frag.Type != "" {
		call.typ = frag.Type
	}
	if frag.Function != nil {
		if frag.Function.Name != "" {
			call.name = frag.Function.Name
		}
		call.args += frag.Function.Arguments
	}
}

// mergeAudio performs a shallow object union, later fragments overwriting
// earlier keys.
func (a *Accumulator) mergeAudio(raw json.RawMessage) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return
	}
	if a.audio == nil {
		a.audio = map[string]json.RawMessage{}
	}
	for k, v := range fields {
		a.audio[k] = v
	}
}

// Message finalizes the accumulated state into a well-formed assistant
// message plus the finish reason, which defaults to "stop" when the stream
// never reported one.
func (a *Accumulator) Message() (core.Message, string) {
	msg := core.TextMessage(roleOrAssistant(a.role), a.content)

	if len(a.calls) > 0 {
		indexes := make([]int64, 0, len(a.calls))
		for idx := range a.calls {
			indexes = append(indexes, idx)
		}
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

		msg.ToolCalls = make([]core.ToolCall, 0, len(indexes))
		for _, idx := range indexes {
			call := a.calls[idx]
			msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
				ID:       call.id,
				Type:     call.typ,
				Function: core.FunctionCall{Name: call.name, Arguments: call.args},
			})
		}
	}

	if len(a.audio) > 0 {
		if audio, err := json.Marshal(a.audio); err == nil {
			msg.Audio = audio
		}
	}

	finish := a.finish
	if finish == "" {
		finish = "stop"
	}
	return msg, finish
}

func roleOrAssistant(role string) string {
	if role == "" {
		return "assistant"
	}
	return role
}

// appendText concatenates a content delta onto the accumulated text. Deltas
// arrive as plain strings, lists of pieces, or objects carrying text under
// "text", "content" or "value".
func appendText(existing string, delta json.RawMessage) string {
	v := gjson.ParseBytes(delta)
	pieces := []gjson.Result{v}
	if v.IsArray() {
		pieces = v.Array()
	}
	for _, piece := range pieces {
		switch {
		case piece.Type == gjson.String:
			existing += piece.String()
		case piece.IsObject():
			for _, key := range []string{"text", "content", "value"} {
				if t := piece.Get(key); t.Type == gjson.String {
					existing += t.String()
					break
				}
			}
		}
	}
	return existing
}
