package engine

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/voiceline/checkgate/core"
)

// chunkRelay translates upstream deltas into outbound chunks for one round.
// It tracks what has already been emitted so the role chunk goes out exactly
// once and audio is not replayed after the stream already carried it.
type chunkRelay struct {
	sink          Sink
	model         string
	roleSent      bool
	streamedAudio bool
	// err records the first sink failure seen inside observe, where no error
	// can be returned. Checked by the caller after the stream ends.
	err error
}

func newChunkRelay(sink Sink, model string) *chunkRelay {
	return &chunkRelay{sink: sink, model: model}
}

// observe relays one upstream delta while it is being accumulated.
func (r *chunkRelay) observe(ck core.Chunk) {
	if r.err != nil || len(ck.Choices) == 0 {
		return
	}
	delta := ck.Choices[0].Delta

	if err := r.ensureRole(delta.Role); err != nil {
		r.err = err
		return
	}
	if delta.Content != nil {
		if err := r.content(delta.Content); err != nil {
			r.err = err
			return
		}
	}
	if delta.Audio != nil {
		if err := r.audio(delta.Audio); err != nil {
			r.err = err
			return
		}
		r.streamedAudio = true
	}
}

// ensureRole emits the role chunk once per round.
func (r *chunkRelay) ensureRole(role string) error {
	if r.roleSent {
		return nil
	}
	if role == "" {
		role = "assistant"
	}
	ck := core.NewChunk(r.model)
	ck.Delta().Role = role
	if err := r.sink.Send(ck); err != nil {
		return err
	}
	r.roleSent = true
	return nil
}

// content emits one chunk per content piece. A bare string travels as a
// string delta; a structured part travels wrapped in a single-element array
// so the client sees the same shape the provider sent.
func (r *chunkRelay) content(content json.RawMessage) error {
	parsed := gjson.ParseBytes(content)
	if !parsed.Exists() || parsed.Type == gjson.Null {
		return nil
	}

	pieces := []gjson.Result{parsed}
	if parsed.IsArray() {
		pieces = parsed.Array()
	}

	for _, piece := range pieces {
		if piece.Type == gjson.Null {
			continue
		}
		ck := core.NewChunk(r.model)
		if piece.Type == gjson.String {
			if piece.String() == "" {
				continue
			}
			raw, err := json.Marshal(piece.String())
			if err != nil {
				continue
			}
			ck.Delta().Content = raw
		} else {
			ck.Delta().Content = json.RawMessage("[" + piece.Raw + "]")
		}
		if err := r.sink.Send(ck); err != nil {
			return err
		}
	}
	return nil
}

func (r *chunkRelay) audio(audio json.RawMessage) error {
	ck := core.NewChunk(r.model)
	ck.Delta().Audio = audio
	return r.sink.Send(ck)
}

// toolCalls emits the assembled tool calls as one frame with finish_reason
// "tool_calls".
func (r *chunkRelay) toolCalls(calls []core.ToolCall) error {
	deltas := make([]core.ToolCallDelta, len(calls))
	for i, call := range calls {
		idx := int64(i)
		deltas[i] = core.ToolCallDelta{
			Index: &idx,
			ID:    call.ID,
			Type:  call.Type,
			Function: &core.FunctionCallDelta{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		}
	}

	ck := core.NewChunk(r.model)
	ck.Delta().ToolCalls = deltas
	ck.SetFinishReason("tool_calls")
	return r.sink.Send(ck)
}

// stop emits the terminal chunk for the turn.
func (r *chunkRelay) stop() error {
	ck := core.NewChunk(r.model)
	ck.SetFinishReason("stop")
	return r.sink.Send(ck)
}
