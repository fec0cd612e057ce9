package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/voiceline/checkgate/checklist"
	"github.com/voiceline/checkgate/core"
	"github.com/voiceline/checkgate/engine"
	"github.com/voiceline/checkgate/logging"
)

// streamErrorText is sent inline when the engine fails after the response
// stream has already been opened.
const streamErrorText = "An internal error occurred while generating a response."

// corsAllowHeaders lists the request headers browsers may send to any route.
const corsAllowHeaders = "Content-Type, Authorization, X-Requested-With, X-Agent-Auth, X-Api-Key, Last-Event-ID, ngrok-skip-browser-warning"

// Options configure the front door.
type Options struct {
	// AllowedOrigins is the CORS allow-list. ["*"] allows everyone.
	AllowedOrigins []string
	// MaxBodyBytes caps the /chat/completions request body.
	MaxBodyBytes int64
	// KeepAliveInterval paces SSE comment probes on the checklist stream.
	KeepAliveInterval time.Duration
	// Model names the model in chunks emitted before a request's own model
	// choice is known, such as inline error chunks.
	Model  string
	Logger logging.Logger
}

// Server routes HTTP traffic to the engine and the checklist store.
type Server struct {
	engine    *engine.Engine
	checklist *checklist.Store
	reset     func()
	origins   []string
	maxBody   int64
	keepAlive time.Duration
	model     string
	logger    logging.Logger
}

// New builds the front door. reset, when non-nil, is invoked by
// POST /checklist/reset after the checklist itself has been cleared, so the
// caller can drop dependent state such as session memories.
func New(eng *engine.Engine, store *checklist.Store, reset func(), optFns ...func(o *Options)) *Server {
	opts := Options{
		AllowedOrigins:    []string{"*"},
		MaxBodyBytes:      1_000_000,
		KeepAliveInterval: 30 * time.Second,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Server{
		engine:    eng,
		checklist: store,
		reset:     reset,
		origins:   opts.AllowedOrigins,
		maxBody:   opts.MaxBodyBytes,
		keepAlive: opts.KeepAliveInterval,
		model:     opts.Model,
		logger:    opts.Logger,
	}
}

// Handler returns the root handler with routing, CORS and request logging
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /checklist", s.handleChecklist)
	mux.HandleFunc("GET /checklist/stream", s.handleChecklistStream)
	mux.HandleFunc("POST /checklist/reset", s.handleChecklistReset)
	mux.HandleFunc("POST /chat/completions", s.handleChat)
	mux.HandleFunc("/", s.handleNotFound)
	return s.middleware(mux)
}

// middleware applies CORS headers, answers preflight requests and logs every
// request with its status and duration.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if origin := s.resolveOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String())
	})
}

// resolveOrigin picks the CORS origin to echo: wildcard when allowed, the
// request's own origin when listed, otherwise the first configured origin.
func (s *Server) resolveOrigin(requestOrigin string) string {
	if len(s.origins) == 0 {
		return ""
	}
	for _, o := range s.origins {
		if o == "*" {
			return "*"
		}
	}
	if requestOrigin != "" {
		for _, o := range s.origins {
			if o == requestOrigin {
				return requestOrigin
			}
		}
	}
	return s.origins[0]
}

func (s *Server) handleChecklist(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	s.respondJSON(w, http.StatusOK, s.checklist.Snapshot())
}

func (s *Server) handleChecklistStream(w http.ResponseWriter, r *http.Request) {
	sse, ok := newSSEWriter(w)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "Streaming is not supported.")
		return
	}
	w.WriteHeader(http.StatusOK)

	snapshot, err := json.Marshal(s.checklist.Snapshot())
	if err != nil {
		return
	}
	if err := sse.event(snapshot); err != nil {
		return
	}

	updates, cancel := s.checklist.Subscribe()
	defer cancel()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, open := <-updates:
			if !open {
				return
			}
			if err := sse.event(payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleChecklistReset(w http.ResponseWriter, r *http.Request) {
	s.checklist.Reset()
	if s.reset != nil {
		s.reset()
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"items":   s.checklist.Snapshot().Items,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, s.maxBody)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "Request payload too large.")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "Failed to read request body.")
		return
	}

	if len(bytes.TrimSpace(body)) == 0 {
		s.respondError(w, http.StatusBadRequest, "Request body must be an object.")
		return
	}
	if !json.Valid(body) {
		s.respondError(w, http.StatusBadRequest, "Request body must be valid JSON.")
		return
	}
	if body[indexNonSpace(body)] != '{' {
		s.respondError(w, http.StatusBadRequest, "Request body must be an object.")
		return
	}

	var req core.CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Request body must be valid JSON.")
		return
	}
	if req.Stream != nil && !*req.Stream {
		s.respondError(w, http.StatusBadRequest, "This endpoint requires stream=true.")
		return
	}
	if len(req.Messages) == 0 {
		s.respondError(w, http.StatusBadRequest, "At least one message is required.")
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "Streaming is not supported.")
		return
	}
	w.WriteHeader(http.StatusOK)

	if err := s.engine.Run(r.Context(), body, &req, sse); err != nil {
		s.logger.Error("http.chat.failed", "path", r.URL.Path, "error", err)
		s.sendInlineError(sse, req.Model)
	}
	sse.done()
}

// sendInlineError emits a best-effort assistant error chunk on an already
// open stream. The stream still terminates normally afterwards.
func (s *Server) sendInlineError(sse *sseWriter, model string) {
	if model == "" {
		model = s.model
	}
	ck := core.NewChunk(model)
	delta := ck.Delta()
	delta.Role = "assistant"
	if raw, err := json.Marshal(streamErrorText); err == nil {
		delta.Content = raw
	}
	ck.SetFinishReason("stop")
	_ = sse.Send(ck)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.respondError(w, http.StatusNotFound, "Not found.")
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("http.response.encode_failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	reader := http.MaxBytesReader(w, r.Body, limit)
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func indexNonSpace(b []byte) int {
	for i := range b {
		if !strings.ContainsRune(" \t\r\n", rune(b[i])) {
			return i
		}
	}
	return 0
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so SSE flushing survives the logging
// middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
