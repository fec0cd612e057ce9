package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/voiceline/checkgate/checklist"
	"github.com/voiceline/checkgate/core"
	"github.com/voiceline/checkgate/logging"
	"github.com/voiceline/checkgate/session"
	"github.com/voiceline/checkgate/tool"
	"github.com/voiceline/checkgate/upstream"
)

// ErrToolLoopExceeded terminates a turn whose tool rounds never converge on a
// plain assistant reply.
var ErrToolLoopExceeded = errors.New("exceeded maximum number of tool call iterations")

// DefaultMaxToolRounds bounds the upstream/tool round-trips within one turn.
const DefaultMaxToolRounds = 10

// Sink receives the completion chunks produced for one turn, in order.
// Returning an error aborts the turn.
type Sink interface {
	Send(ck core.Chunk) error
}

// Options configure an Engine.
type Options struct {
	// Model is used when the request does not name one.
	Model string
	// Greeting is injected as a synthetic assistant message on a session's
	// first turn. Empty disables injection.
	Greeting string
	// Instruction is appended to the caller's system prompt when the
	// checklist update tool is registered. Empty disables injection.
	Instruction string
	// MaxToolRounds caps tool iterations per turn. Defaults to
	// DefaultMaxToolRounds when zero or negative.
	MaxToolRounds int
	Logger        logging.Logger
}

// Engine executes chat-completion turns. Safe for concurrent use; all mutable
// state lives in the stores it was constructed with.
type Engine struct {
	upstream  *upstream.Client
	registry  *tool.Registry
	sessions  *session.Store
	model     string
	greeting  string
	instr     string
	maxRounds int
	logger    logging.Logger
}

// New wires an engine from its collaborators.
func New(up *upstream.Client, reg *tool.Registry, sessions *session.Store, optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxToolRounds: DefaultMaxToolRounds,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Engine{
		upstream:  up,
		registry:  reg,
		sessions:  sessions,
		model:     opts.Model,
		greeting:  opts.Greeting,
		instr:     opts.Instruction,
		maxRounds: opts.MaxToolRounds,
		logger:    opts.Logger,
	}
}

// sessionIDPaths are probed in order against the raw request body.
var sessionIDPaths = []string{
	"context.session_id",
	"context.sessionId",
	"context.channel",
	"context.channel_name",
	"context.connection_id",
	"context.call_id",
	"context.agent_session_id",
	"session_id",
	"sessionId",
	"channel",
	"agent_id",
}

// messageIDPaths are probed per message when no body-level candidate matched.
var messageIDPaths = []string{
	"metadata.session_id",
	"metadata.sessionId",
	"metadata.channel",
	"metadata.user",
	"metadata.conversation_id",
	"turn_id",
}

// ResolveSessionID extracts the session identifier from the raw request body,
// trying the well-known context and top-level fields first and falling back to
// per-message metadata.
func ResolveSessionID(raw []byte) string {
	body := gjson.ParseBytes(raw)

	for _, path := range sessionIDPaths {
		if v := body.Get(path); v.Type == gjson.String {
			if id := strings.TrimSpace(v.String()); id != "" {
				return id
			}
		}
	}

	for _, msg := range body.Get("messages").Array() {
		for _, path := range messageIDPaths {
			v := msg.Get(path)
			if !v.Exists() || v.Type == gjson.Null {
				continue
			}
			if id := strings.TrimSpace(v.String()); id != "" {
				return id
			}
		}
	}

	return session.DefaultSessionID
}

// Run executes one turn. raw is the undecoded request body (used for session
// resolution), req the decoded form. Chunks flow to sink as they are produced;
// Run returns only after the turn's stop chunk has been sent or an error made
// that impossible.
func (e *Engine) Run(ctx context.Context, raw []byte, req *core.CompletionRequest, sink Sink) error {
	model := req.Model
	if model == "" {
		model = e.model
	}

	sessionID := ResolveSessionID(raw)

	working := make([]core.Message, len(req.Messages))
	copy(working, req.Messages)
	working = e.ensureGreeting(sessionID, working)

	e.sessions.Append(sessionID, working)
	e.sessions.SyncFromChecklist(sessionID)

	tools := e.mergeTools(req.Tools)
	toolChoice := req.ToolChoice
	if toolChoice == nil && len(tools) > 0 {
		toolChoice = json.RawMessage(`"auto"`)
	}

	working = e.ensureInstruction(working)
	working = injectSummary(working, e.sessions.Summary(sessionID))

	e.logger.Debug("engine.turn.start",
		"session_id", sessionID, "model", model,
		"messages", len(working), "tools", len(tools))

	for rounds := 1; rounds <= e.maxRounds; rounds++ {
		payload := core.CompletionPayload{
			Model:             model,
			Messages:          outbound(working),
			Tools:             tools,
			ToolChoice:        toolChoice,
			ResponseFormat:    req.ResponseFormat,
			Modalities:        req.Modalities,
			Audio:             req.Audio,
			ParallelToolCalls: req.ParallelToolCalls,
			StreamOptions:     req.StreamOptions,
			Context:           req.Context,
		}

		relay := newChunkRelay(sink, model)

		msg, _, err := e.upstream.Stream(ctx, payload, relay.observe)
		streamed := err == nil
		if err != nil {
			if relay.err != nil {
				return relay.err
			}
			e.logger.Warn("engine.upstream.stream_failed", "session_id", sessionID, "error", err)
			msg, _, err = e.upstream.Complete(ctx, payload)
			if err != nil {
				return err
			}
		}
		if relay.err != nil {
			return relay.err
		}
		if err := relay.ensureRole(msg.Role); err != nil {
			return err
		}

		if len(msg.ToolCalls) > 0 {
			var err error
			working, err = e.runToolRound(ctx, sessionID, working, relay, msg)
			if err != nil {
				return err
			}
			continue
		}

		if !streamed {
			if err := relay.content(msg.Content); err != nil {
				return err
			}
		}
		if msg.Audio != nil && !relay.streamedAudio {
			if err := relay.audio(msg.Audio); err != nil {
				return err
			}
		}

		final := core.TextMessage("assistant", core.ContentText(msg.Content))
		final.Audio = msg.Audio
		e.sessions.Append(sessionID, []core.Message{final})
		e.sessions.SyncFromChecklist(sessionID)

		e.logger.Debug("engine.turn.done", "session_id", sessionID, "rounds", rounds)
		return relay.stop()
	}

	return ErrToolLoopExceeded
}

// runToolRound relays the tool-call frame, executes every requested tool in
// order, and folds the results back into the conversation and session memory.
func (e *Engine) runToolRound(
	ctx context.Context,
	sessionID string,
	working []core.Message,
	relay *chunkRelay,
	msg *core.Message,
) ([]core.Message, error) {
	if err := relay.toolCalls(msg.ToolCalls); err != nil {
		return nil, err
	}

	assistant := core.Message{
		Role:      "assistant",
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
	}
	working = append(working, assistant)
	e.sessions.Append(sessionID, []core.Message{assistant})

	for _, call := range msg.ToolCalls {
		e.logger.Info("engine.tool.execute",
			"session_id", sessionID, "tool", call.Function.Name, "call_id", call.ID)

		result := e.registry.Execute(ctx, call.Function.Name, call.Function.Arguments)
		e.sessions.ApplyToolResult(sessionID, call, result)

		toolMsg := toolResultMessage(call, result)
		working = append(working, toolMsg)
		e.sessions.Append(sessionID, []core.Message{toolMsg})
	}

	e.sessions.SyncFromChecklist(sessionID)
	return injectSummary(working, e.sessions.Summary(sessionID)), nil
}

// toolResultMessage wraps an executed tool's result as a tool-role message.
// The content is the JSON encoding of the result, carried as a string.
func toolResultMessage(call core.ToolCall, result any) core.Message {
	encoded, err := json.Marshal(result)
	if err != nil {
		encoded = []byte(`{"error":"Tool result could not be serialized."}`)
	}

	id := call.ID
	if id == "" {
		id = call.Function.Name
	}
	if id == "" {
		id = "tool"
	}

	msg := core.TextMessage("tool", string(encoded))
	msg.ToolCallID = id
	return msg
}

// ensureGreeting inserts the configured assistant greeting after the last
// system message when neither the request nor the session memory shows the
// assistant has spoken yet.
func (e *Engine) ensureGreeting(sessionID string, messages []core.Message) []core.Message {
	if e.greeting == "" || len(messages) == 0 {
		return messages
	}
	for _, msg := range messages {
		if msg.Role == "assistant" {
			return messages
		}
	}
	if e.sessions.HasAssistantTurn(sessionID) {
		return messages
	}

	greeting := core.TextMessage("assistant", e.greeting)
	lastSystem := -1
	for i, msg := range messages {
		if msg.Role == "system" {
			lastSystem = i
		}
	}

	out := make([]core.Message, 0, len(messages)+1)
	if lastSystem >= 0 {
		out = append(out, messages[:lastSystem+1]...)
		out = append(out, greeting)
		out = append(out, messages[lastSystem+1:]...)
	} else {
		out = append(out, greeting)
		out = append(out, messages...)
	}
	return out
}

// mergeTools combines caller-provided tool definitions with the registry's.
// Caller definitions win on name collisions and keep their position.
func (e *Engine) mergeTools(provided []json.RawMessage) []json.RawMessage {
	merged := make([]json.RawMessage, 0, len(provided))
	seen := make(map[string]struct{})

	for _, raw := range provided {
		if name := strings.TrimSpace(gjson.GetBytes(raw, "function.name").String()); name != "" {
			seen[name] = struct{}{}
		}
		merged = append(merged, raw)
	}

	for _, def := range e.registry.Definitions() {
		if _, ok := seen[def.Function.Name]; ok {
			continue
		}
		raw, err := json.Marshal(def)
		if err != nil {
			e.logger.Warn("engine.tool.definition_marshal_failed", "tool", def.Function.Name, "error", err)
			continue
		}
		merged = append(merged, raw)
	}

	return merged
}

// ensureInstruction appends the checklist instruction to the caller's system
// prompt unless some system message already mentions the update tool.
func (e *Engine) ensureInstruction(messages []core.Message) []core.Message {
	if e.instr == "" || len(messages) == 0 || !e.registry.Has(checklist.ToolUpdateStatus) {
		return messages
	}

	for _, msg := range messages {
		if systemMentions(msg, checklist.ToolUpdateStatus) {
			return messages
		}
	}

	for i, msg := range messages {
		if msg.Role != "system" {
			continue
		}
		parsed := gjson.ParseBytes(msg.Content)
		switch {
		case parsed.Type == gjson.String:
			messages[i] = core.TextMessage("system", parsed.String()+"\n\n"+e.instr)
			return messages
		case parsed.IsArray():
			var parts []json.RawMessage
			if err := json.Unmarshal(msg.Content, &parts); err == nil {
				part, _ := json.Marshal(map[string]string{"type": "text", "text": e.instr})
				parts = append(parts, part)
				if raw, err := json.Marshal(parts); err == nil {
					messages[i].Content = raw
					return messages
				}
			}
		}
		break
	}

	return append([]core.Message{core.TextMessage("system", e.instr)}, messages...)
}

func systemMentions(msg core.Message, needle string) bool {
	if msg.Role != "system" {
		return false
	}
	parsed := gjson.ParseBytes(msg.Content)
	if parsed.Type == gjson.String {
		return strings.Contains(parsed.String(), needle)
	}
	if parsed.IsArray() {
		for _, part := range parsed.Array() {
			if strings.Contains(part.Get("text").String(), needle) {
				return true
			}
		}
	}
	return false
}

// injectSummary places the session-memory digest into the conversation as a
// marked system message. An existing marked message is replaced in place;
// otherwise the digest lands right after the first system message, or at the
// front when there is none.
func injectSummary(messages []core.Message, summary string) []core.Message {
	if summary == "" || len(messages) == 0 {
		return messages
	}

	digest := core.TextMessage("system", session.MemoryMarker+"\n"+summary)

	for i, msg := range messages {
		if msg.Role != "system" {
			continue
		}
		parsed := gjson.ParseBytes(msg.Content)
		if parsed.Type == gjson.String && strings.Contains(parsed.String(), session.MemoryMarker) {
			messages[i] = digest
			return messages
		}
	}

	firstSystem := -1
	for i, msg := range messages {
		if msg.Role == "system" {
			firstSystem = i
			break
		}
	}

	out := make([]core.Message, 0, len(messages)+1)
	if firstSystem >= 0 {
		out = append(out, messages[:firstSystem+1]...)
		out = append(out, digest)
		out = append(out, messages[firstSystem+1:]...)
	} else {
		out = append(out, digest)
		out = append(out, messages...)
	}
	return out
}

// outbound strips routing metadata from the conversation before it is sent
// upstream.
func outbound(messages []core.Message) []core.Message {
	out := make([]core.Message, len(messages))
	for i, msg := range messages {
		out[i] = msg.Normalize()
	}
	return out
}
