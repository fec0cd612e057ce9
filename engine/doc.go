// Package engine drives one chat-completion turn end to end: it resolves the
// caller's session, augments the conversation with the greeting, checklist
// instruction and session-memory digest, calls the upstream provider, executes
// any requested tools, and relays the assistant output as completion chunks to
// a caller-provided sink.
//
// The engine never writes HTTP itself. The Sink interface decouples it from
// the transport, so the same loop serves SSE responses and in-process tests.
package engine
