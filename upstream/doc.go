// Package upstream implements the client for the LLM chat-completion
// provider.
//
// The streaming path issues the completion request with streaming enabled,
// decodes the SSE event frames, relays each decoded chunk to an observer for
// live forwarding, and folds every delta into an Accumulator until the
// end-of-stream sentinel (or stream closure) yields one fully assembled
// assistant message. A non-streaming fallback call hits the same endpoint
// with streaming disabled and returns the assistant message directly.
package upstream
