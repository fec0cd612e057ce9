package core

import "encoding/json"

// CompletionRequest is the inbound /chat/completions body. Fields the gateway
// does not interpret are held as raw JSON and forwarded verbatim.
type CompletionRequest struct {
	Model             string            `json:"model,omitempty"`
	Messages          []Message         `json:"messages"`
	Tools             []json.RawMessage `json:"tools,omitempty"`
	ToolChoice        json.RawMessage   `json:"tool_choice,omitempty"`
	ResponseFormat    json.RawMessage   `json:"response_format,omitempty"`
	Modalities        []string          `json:"modalities,omitempty"`
	Audio             json.RawMessage   `json:"audio,omitempty"`
	ParallelToolCalls *bool             `json:"parallel_tool_calls,omitempty"`
	StreamOptions     json.RawMessage   `json:"stream_options,omitempty"`
	Context           json.RawMessage   `json:"context,omitempty"`
	Stream            *bool             `json:"stream,omitempty"`
}

// CompletionPayload is the request body sent to the upstream provider. It is
// rebuilt per tool-loop iteration from the (augmented) conversation.
type CompletionPayload struct {
	Model             string            `json:"model"`
	Messages          []Message         `json:"messages"`
	Tools             []json.RawMessage `json:"tools,omitempty"`
	ToolChoice        json.RawMessage   `json:"tool_choice,omitempty"`
	ResponseFormat    json.RawMessage   `json:"response_format,omitempty"`
	Modalities        []string          `json:"modalities,omitempty"`
	Audio             json.RawMessage   `json:"audio,omitempty"`
	ParallelToolCalls *bool             `json:"parallel_tool_calls,omitempty"`
	StreamOptions     json.RawMessage   `json:"stream_options,omitempty"`
	Context           json.RawMessage   `json:"context,omitempty"`
	Stream            bool              `json:"stream"`
}
