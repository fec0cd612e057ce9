// Package checkgate provides a high-level façade over the streaming gateway:
// the shared checklist store, per-session memory, the tool registry and the
// chat-completion engine, exposed together behind one http.Handler. Most
// applications interact with this package by:
//  1. Creating a Gateway via New() with the upstream endpoint and API key
//  2. Optionally registering extra tools (RegisterTool)
//  3. Mounting Handler() on an http.Server
//
// All state is process-lifetime only; a restart returns the checklist and all
// session memories to their defaults.
package checkgate

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voiceline/checkgate/checklist"
	"github.com/voiceline/checkgate/engine"
	"github.com/voiceline/checkgate/logging"
	"github.com/voiceline/checkgate/server"
	"github.com/voiceline/checkgate/session"
	"github.com/voiceline/checkgate/tool"
	"github.com/voiceline/checkgate/upstream"
)

// DefaultUpstreamURL is the OpenAI chat-completions endpoint.
const DefaultUpstreamURL = "https://api.openai.com/v1/chat/completions"

// DefaultModel is used when neither the request nor the configuration names
// a model.
const DefaultModel = "gpt-4o-mini"

// DefaultGreeting opens a review session when the caller supplies none.
const DefaultGreeting = "Hi, I'm Aiden, your Agora checklist assistant. To kick things off, are you seeing any mixed usage of string and integer RTC UIDs in your implementation?"

// Options configures the Gateway.
type Options struct {
	// UpstreamURL is the chat-completions endpoint to proxy to.
	UpstreamURL string
	// APIKey authenticates against the upstream provider. Required.
	APIKey string
	// Model is the default model for requests that omit one.
	Model string
	// Timeout bounds each upstream call.
	Timeout time.Duration

	// Greeting is the synthetic assistant opener for new sessions. Defaults
	// to DefaultGreeting; set to the empty string to disable injection.
	Greeting string
	// Instruction overrides the generated checklist instruction.
	Instruction string
	// MaxToolRounds caps tool iterations per turn.
	MaxToolRounds int

	// Items overrides the default checklist template.
	Items []checklist.Item

	// AllowedOrigins is the CORS allow-list for the HTTP surface.
	AllowedOrigins []string
	// MaxBodyBytes caps inbound request bodies.
	MaxBodyBytes int64

	Logger logging.Logger
}

// Gateway aggregates the gateway's stores and engine behind one handler.
// The stores are exported so applications can observe or drive them directly
// (for example a dashboard reading Checklist.Snapshot()).
type Gateway struct {
	Checklist *checklist.Store
	Sessions  *session.Store
	Registry  *tool.Registry

	engine *engine.Engine
	server *server.Server
	logger logging.Logger
}

// New wires a Gateway. Any unset option falls back to a production-safe
// default; only the API key is required.
func New(optFns ...func(o *Options)) (*Gateway, error) {
	opts := Options{
		UpstreamURL:    DefaultUpstreamURL,
		Model:          DefaultModel,
		Timeout:        30 * time.Second,
		Greeting:       DefaultGreeting,
		MaxToolRounds:  engine.DefaultMaxToolRounds,
		Items:          checklist.DefaultItems(),
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1_000_000,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.APIKey == "" {
		return nil, upstream.ErrMissingAPIKey
	}
	if opts.Instruction == "" {
		opts.Instruction = ChecklistInstruction(opts.Items)
	}

	store := checklist.NewStore(opts.Items, func(o *checklist.Options) {
		o.Logger = opts.Logger
	})
	sessions := session.NewStore(store, func(o *session.Options) {
		o.Logger = opts.Logger
	})
	registry := tool.NewRegistry(func(o *tool.Options) {
		o.Logger = opts.Logger
	})

	if err := checklist.RegisterTools(registry, store, sessions.Reset); err != nil {
		return nil, fmt.Errorf("register checklist tools: %w", err)
	}

	client := upstream.NewClient(opts.UpstreamURL, opts.APIKey, func(o *upstream.Options) {
		o.Timeout = opts.Timeout
		o.Logger = opts.Logger
	})

	eng := engine.New(client, registry, sessions, func(o *engine.Options) {
		o.Model = opts.Model
		o.Greeting = opts.Greeting
		o.Instruction = opts.Instruction
		o.MaxToolRounds = opts.MaxToolRounds
		o.Logger = opts.Logger
	})

	gw := &Gateway{
		Checklist: store,
		Sessions:  sessions,
		Registry:  registry,
		engine:    eng,
		logger:    opts.Logger,
	}

	gw.server = server.New(eng, store, sessions.Reset, func(o *server.Options) {
		o.AllowedOrigins = opts.AllowedOrigins
		o.MaxBodyBytes = opts.MaxBodyBytes
		o.Model = opts.Model
		o.Logger = opts.Logger
	})

	return gw, nil
}

// Handler returns the HTTP surface of the gateway.
func (g *Gateway) Handler() http.Handler { return g.server.Handler() }

// RegisterTool adds or replaces a tool available to the model.
func (g *Gateway) RegisterTool(name, description string, parameters map[string]any, h tool.Handler) error {
	return g.Registry.Register(name, description, parameters, h)
}

// Reset returns the checklist to its template and drops all session memories.
func (g *Gateway) Reset() {
	g.Checklist.Reset()
	g.Sessions.Reset()
}

// ChecklistInstruction renders the default system instruction for a checklist
// template, enumerating its questions in review order.
func ChecklistInstruction(items []checklist.Item) string {
	sequence := make([]string, len(items))
	for i, item := range items {
		sequence[i] = fmt.Sprintf("%d) %s", i+1, item.Question)
	}

	return fmt.Sprintf(`You are "Aiden", the Agora deployment checklist assistant. Follow these rules:
1. Greet the user with a single sentence introduction that states your name and role. In the same turn, immediately ask about checklist item #1 as a clear yes/no question.
2. Review the checklist strictly in order:
   %s
3. Ask about one item at a time and wait for the user's answer before proceeding. Do not skip or merge items.
4. After each answer, decide whether the item passes or fails. Call %s with status "complete" for a pass or "fail" when issues remain, and include a short actionable suggestion in the recommendation field.
5. Confirm the decision to the user (explicitly say pass or fail) before you move on. Once every item is complete, wrap up the review and offer additional help if needed.
Use the provided session memory summary to remember progress and avoid repeating questions.`,
		strings.Join(sequence, "\n   "), checklist.ToolUpdateStatus)
}
