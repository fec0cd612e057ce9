package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/voiceline/checkgate/core"
)

// sseWriter frames payloads as Server-Sent Events and flushes after every
// write so deltas reach the client immediately. Writes are serialized; the
// keep-alive ticker and the producing goroutine may interleave.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) event(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Send implements engine.Sink.
func (s *sseWriter) Send(ck core.Chunk) error {
	payload, err := json.Marshal(ck)
	if err != nil {
		return err
	}
	return s.event(payload)
}

// comment writes an SSE comment line, used as a keep-alive probe.
func (s *sseWriter) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// done writes the terminal stream sentinel.
func (s *sseWriter) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}
