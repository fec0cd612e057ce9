package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Chunk is one streamed completion frame, identical in shape on both sides of
// the gateway: upstream frames decode into it and outbound frames are built
// from it.
type Chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice pairs a delta with an optional finish reason. FinishReason is a
// pointer so an unset value serializes as null, matching provider framing.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the partial-message fragment carried by a chunk. Every field is
// optional; a frame may carry any combination of role, content, tool-call
// fragments and audio.
type Delta struct {
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
	Audio     json.RawMessage `json:"audio,omitempty"`
}

// ToolCallDelta is an in-progress fragment of a tool call. Index positions the
// fragment within the accumulating call list; Arguments text concatenates
// across fragments sharing an index.
type ToolCallDelta struct {
	Index    *int64             `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function *FunctionCallDelta `json:"function,omitempty"`
}

// FunctionCallDelta carries partial function name and argument text.
type FunctionCallDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// NewChunk returns an empty single-choice chunk ready for a delta.
func NewChunk(model string) Chunk {
	return Chunk{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{}},
	}
}

// Delta returns a pointer to the first choice's delta for in-place mutation.
func (c *Chunk) Delta() *Delta {
	return &c.Choices[0].Delta
}

// SetFinishReason sets the first choice's finish reason.
func (c *Chunk) SetFinishReason(reason string) {
	c.Choices[0].FinishReason = &reason
}

// Completion is the provider's non-streaming response envelope.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
}

// CompletionChoice holds a fully assembled assistant message.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}
