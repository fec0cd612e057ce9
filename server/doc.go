// Package server is the HTTP front door. It exposes the chat-completion
// endpoint as an SSE stream, the checklist snapshot and live checklist
// stream, and the reset endpoint, with CORS handling and request logging
// applied uniformly.
package server
