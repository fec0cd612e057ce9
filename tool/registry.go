package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voiceline/checkgate/logging"
)

var (
	// ErrInvalidToolName is returned when registering a tool with an empty name.
	ErrInvalidToolName = errors.New("tool name must be a non-empty string")
	// ErrInvalidHandler is returned when registering a tool without a handler.
	ErrInvalidHandler = errors.New("tool handler must not be nil")
)

// Handler executes a tool with already decoded arguments. The returned value
// must be JSON serializable; a returned error is captured as a structured
// result, never propagated to the caller.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition is the schema-bearing, provider-facing description of a tool.
type Definition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes the callable function behind a Definition.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Strict      *bool          `json:"strict,omitempty"`
}

// DefaultParameters is the schema used for tools registered without one.
func DefaultParameters() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": true,
	}
}

type entry struct {
	def     Definition
	handler Handler
}

// Options configure a Registry.
type Options struct {
	// Logger receives per-execution debug and error entries. Defaults to NoOp.
	Logger logging.Logger
}

// Registry holds named, schema described tools and executes them by name.
// Re-registration under an existing name overwrites the prior definition
// while keeping its position in the definition order. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
	logger  logging.Logger
}

// NewRegistry constructs a registry preloaded with the ping and echo
// built-ins, which serve as protocol smoke tests for tool dispatch.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Registry{entries: map[string]entry{}, logger: opts.Logger}
	registerBuiltins(r)

	return r
}

// Register adds or replaces a tool. An empty description or nil parameter
// schema is filled with defaults.
func (r *Registry) Register(name, description string, parameters map[string]any, h Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidToolName
	}
	if h == nil {
		return fmt.Errorf("%w: tool %q", ErrInvalidHandler, name)
	}

	description = strings.TrimSpace(description)
	if description == "" {
		description = fmt.Sprintf("Tool %q", name)
	}
	if parameters == nil {
		parameters = DefaultParameters()
	}

	def := Definition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = entry{def: def, handler: h}

	return nil
}

// Has reports whether a tool is registered under the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Definitions returns the provider-facing tool definitions in insertion order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].def)
	}
	return defs
}

// Execute looks up and runs the named tool with the raw JSON argument text.
// The result is always a structured value suitable for serialization as tool
// output:
//
//	unknown tool / bad arguments / handler error -> {"error": ..., "details"?: ...}
//	string result                                -> {"output": <string>}
//	[]byte result                                -> {"output": <base64>, "encoding": "base64"}
//	nil result                                   -> {"output": null}
//	anything else                                -> passed through unchanged
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) any {
	if strings.TrimSpace(name) == "" {
		return map[string]any{"error": "Tool call is missing a function name."}
	}

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return map[string]any{"error": fmt.Sprintf("No handler registered for tool %q.", name)}
	}

	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return map[string]any{
				"error":   fmt.Sprintf("Failed to parse arguments for tool %q.", name),
				"details": err.Error(),
			}
		}
	}

	start := time.Now()
	result, err := r.call(ctx, e.handler, args)
	if err != nil {
		r.logger.Error("tool.execute.failed", "tool", name, "error", err.Error())
		return map[string]any{
			"error":   fmt.Sprintf("Tool %q execution failed.", name),
			"details": err.Error(),
		}
	}
	r.logger.Debug("tool.execute.ok", "tool", name, "duration_ms", time.Since(start).Milliseconds())

	switch v := result.(type) {
	case nil:
		return map[string]any{"output": nil}
	case string:
		return map[string]any{"output": v}
	case []byte:
		return map[string]any{"output": base64.StdEncoding.EncodeToString(v), "encoding": "base64"}
	default:
		return result
	}
}

// call invokes the handler with panic recovery so a misbehaving tool cannot
// take down the request.
func (r *Registry) call(ctx context.Context, h Handler, args map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(ctx, args)
}
