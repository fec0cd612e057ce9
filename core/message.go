package core

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Message is one conversational turn in chat-completion framing. Content is
// kept as raw JSON because callers send it as a plain string, a list of typed
// parts, or null, and the gateway must forward whichever shape it received.
//
// Metadata and TurnID are caller-side bookkeeping fields (session routing,
// dedupe). They are stripped before a message is sent upstream; see Normalize.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Audio      json.RawMessage `json:"audio,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	TurnID     *int64          `json:"turn_id,omitempty"`
}

// ToolCall is a finalized function invocation emitted by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-encoded argument text.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// TextMessage builds a message whose content is a plain string.
func TextMessage(role, text string) Message {
	content, _ := json.Marshal(text)
	return Message{Role: role, Content: content}
}

// Normalize returns a copy of the message restricted to the fields the
// upstream provider understands, dropping gateway-side metadata.
func (m Message) Normalize() Message {
	return Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Audio:      m.Audio,
	}
}

// ContentText extracts the textual content of the message. See the package
// level ContentText for the accepted shapes.
func (m Message) ContentText() string {
	return ContentText(m.Content)
}

// ContentText flattens a raw content value into plain text. Accepted shapes:
// a JSON string, a list of parts (strings or objects with a "text" field), or
// a single object with a "text" field. Anything else yields "".
func ContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	v := gjson.ParseBytes(raw)
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var parts []string
		v.ForEach(func(_, part gjson.Result) bool {
			switch {
			case part.Type == gjson.String:
				if s := part.String(); s != "" {
					parts = append(parts, s)
				}
			case part.IsObject():
				if t := part.Get("text"); t.Type == gjson.String && t.String() != "" {
					parts = append(parts, t.String())
				}
			}
			return true
		})
		return strings.Join(parts, " ")
	case v.IsObject():
		if t := v.Get("text"); t.Type == gjson.String {
			return t.String()
		}
	}
	return ""
}
