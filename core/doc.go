// Package core defines the shared wire-level data model for the gateway:
// chat messages, tool calls, streamed completion chunks and their deltas,
// and the request/payload envelopes exchanged with callers and the
// upstream provider. All types follow OpenAI chat-completion framing so
// payloads can be forwarded and re-emitted without translation.
package core
